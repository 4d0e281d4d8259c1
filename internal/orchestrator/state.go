package orchestrator

import (
	"context"
	"fmt"

	"github.com/yuya-takeyama/strict-site-deploy/internal/logging"
)

// State is what a query observes about one resource.
type State int

const (
	Absent State = iota
	Pending
	Ready
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Resource string

const (
	ResourceBucket                Resource = "bucket"
	ResourceCertificate           Resource = "certificate"
	ResourceValidationRecord      Resource = "validation-record"
	ResourceCertificateValidation Resource = "certificate-validation"
	ResourceDistribution          Resource = "distribution"
	ResourceAliasRecord           Resource = "alias-record"
	ResourceFiles                 Resource = "files"
)

// Query observes a resource without changing it.
type Query func(ctx context.Context) (State, error)

// Step is one transition of a deploy or undeploy. Apply only runs when Done
// rejects the state Query observed.
type Step struct {
	Name     string
	Resource Resource
	Query    Query
	Done     func(State) bool
	Apply    func(ctx context.Context) error
}

func is(want State) func(State) bool {
	return func(s State) bool { return s == want }
}

func isNot(unwanted State) func(State) bool {
	return func(s State) bool { return s != unwanted }
}

// Run executes steps in order. The first error aborts the run; completed
// steps are left in place so that a rerun picks up where this one stopped.
// With dryRun, steps are queried and reported but never applied.
func Run(ctx context.Context, log *logging.Logger, steps []Step, dryRun bool) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		state, err := step.Query(ctx)
		if err != nil {
			return fmt.Errorf("%s: query %s: %w", step.Name, step.Resource, err)
		}
		if step.Done(state) {
			log.Info("skip %s: %s is %s", step.Name, step.Resource, state)
			continue
		}

		if dryRun {
			log.Info("would %s: %s is %s", step.Name, step.Resource, state)
			continue
		}

		log.Info("%s", step.Name)
		if err := step.Apply(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.Name, err)
		}
	}
	return nil
}
