package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/proofledger/internal/reconcile"
	"github.com/angelmondragon/proofledger/pkg/enums"
)

type options struct {
	organizationID uuid.UUID
	schemas        []enums.ReportSchema
	from           time.Time
	to             time.Time
}

// parseOptions reads the rebuild window. An empty -schema rebuilds every schema
// and an empty -to rebuilds the -from month only.
func parseOptions(args []string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(output)
	org := fs.String("org", "", "organization id (uuid)")
	schema := fs.String("schema", "", "report schema: A|B|C or a form number; empty rebuilds all")
	from := fs.String("from", "", "first month to rebuild (YYYY-MM)")
	to := fs.String("to", "", "last month to rebuild (YYYY-MM); defaults to -from")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	var opts options
	id, err := uuid.Parse(strings.TrimSpace(*org))
	if err != nil || id == uuid.Nil {
		return options{}, errors.New("-org must be a non-nil uuid")
	}
	opts.organizationID = id

	if strings.TrimSpace(*schema) == "" {
		opts.schemas = enums.ReportSchemas()
	} else {
		parsed, err := enums.ParseReportSchema(*schema)
		if err != nil {
			return options{}, fmt.Errorf("-schema: %w", err)
		}
		opts.schemas = []enums.ReportSchema{parsed}
	}

	if strings.TrimSpace(*from) == "" {
		return options{}, errors.New("-from is required")
	}
	if opts.from, err = reconcile.ParseMonth(*from); err != nil {
		return options{}, fmt.Errorf("-from: %w", err)
	}
	opts.to = opts.from
	if strings.TrimSpace(*to) != "" {
		if opts.to, err = reconcile.ParseMonth(*to); err != nil {
			return options{}, fmt.Errorf("-to: %w", err)
		}
	}
	if opts.to.Before(opts.from) {
		return options{}, errors.New("-to must not be before -from")
	}
	return opts, nil
}
