package cron

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/proofledger/pkg/logger"
)

// MonthCloseJobName is the registry name of the month-close refresh.
const MonthCloseJobName = "month-close-refresh"

// OrganizationLister enumerates the organizations a job should visit.
type OrganizationLister interface {
	ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error)
}

type monthCloser interface {
	CloseMonth(ctx context.Context, organizationID uuid.UUID, month time.Time) error
}

type MonthCloseJobParams struct {
	Logger  *logger.Logger
	Sources []OrganizationLister
	Closer  monthCloser
	Now     func() time.Time
}

// NewMonthCloseJob closes the previous calendar month for each organization with
// ledger events or reports: every schema gets a record for it, created when nobody
// opened the month, and already computed later months are cascaded.
func NewMonthCloseJob(params MonthCloseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(params.Sources) == 0 {
		return nil, fmt.Errorf("organization source required")
	}
	if params.Closer == nil {
		return nil, fmt.Errorf("month closer required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &monthCloseJob{
		logg:    params.Logger,
		sources: params.Sources,
		closer:  params.Closer,
		now:     now,
	}, nil
}

type monthCloseJob struct {
	logg    *logger.Logger
	sources []OrganizationLister
	closer  monthCloser
	now     func() time.Time
}

func (j *monthCloseJob) Name() string { return MonthCloseJobName }

func (j *monthCloseJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	closing := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)

	orgs, err := j.organizations(ctx)
	if err != nil {
		return fmt.Errorf("list organizations: %w", err)
	}

	var errs error
	failed := 0
	for _, org := range orgs {
		if err := j.closer.CloseMonth(ctx, org, closing); err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("organization %s: %w", org, err))
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"month":         closing.Format("2006-01"),
		"organizations": len(orgs),
		"failed":        failed,
	}), "month close refresh complete")
	return errs
}

func (j *monthCloseJob) organizations(ctx context.Context) ([]uuid.UUID, error) {
	set := map[uuid.UUID]struct{}{}
	for _, source := range j.sources {
		ids, err := source.ListOrganizationIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].String() < out[b].String() })
	return out, nil
}
