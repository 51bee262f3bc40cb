package bdd

import (
	"fmt"

	"github.com/chirino/agent-datastore/internal/testutil/cucumber"
	"github.com/chirino/agent-datastore/internal/testutil/testoidc"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &identitySteps{s: s}
		ctx.Step(`^I am user "([^"]*)"$`, a.iAmUser)
		ctx.Step(`^I am user "([^"]*)" acting as agent "([^"]*)"$`, a.iAmUserActingAsAgent)
		ctx.Step(`^I am user "([^"]*)" with an OIDC token$`, a.iAmUserWithAnOIDCToken)
		ctx.Step(`^I am user "([^"]*)" with API key "([^"]*)"$`, a.iAmUserWithAPIKey)
	})
}

type identitySteps struct {
	s *cucumber.TestScenario
}

// use switches to the caller identified by name and agent; each pair keeps
// its own HTTP session.
func (a *identitySteps) use(name, agent, token string) {
	id := name
	if agent != "" {
		id = name + "@" + agent
	}
	if token != "" {
		id += "#token"
	}
	a.s.Suite.Mu.Lock()
	defer a.s.Suite.Mu.Unlock()
	if a.s.Users[id] == nil {
		a.s.Users[id] = &cucumber.TestUser{Name: name, Agent: agent, Token: token}
	}
	a.s.CurrentUser = id
}

func (a *identitySteps) iAmUser(name string) error {
	a.use(name, "", "")
	return nil
}

func (a *identitySteps) iAmUserActingAsAgent(name, agent string) error {
	a.use(name, agent, "")
	return nil
}

func (a *identitySteps) iAmUserWithAnOIDCToken(name string) error {
	issuer, ok := a.s.Suite.Extra["oidc"].(*testoidc.Issuer)
	if !ok {
		return fmt.Errorf("no OIDC issuer configured for this suite")
	}
	a.use(name, "", issuer.IssueToken(a.s.Suite.TestingT, name))
	return nil
}

func (a *identitySteps) iAmUserWithAPIKey(name, key string) error {
	a.use(name, "", key)
	return nil
}
