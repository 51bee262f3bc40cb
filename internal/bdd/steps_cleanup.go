package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/agent-datastore/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		if s.Suite.DB == nil {
			return
		}
		ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
			return ctx, s.Suite.DB.ClearAll(ctx)
		})
		ctx.Step(`^the store should hold (\d+) records?$`, func(expected int) error {
			actual, err := s.Suite.DB.Count(context.Background())
			if err != nil {
				return err
			}
			if actual != expected {
				return fmt.Errorf("expected %d stored records, found %d", expected, actual)
			}
			return nil
		})
	})
}
