// Package contractstore loads, validates, and merges declarative contract
// rules from the project (.claude/contracts/) and user (~/.phaser/contracts/)
// scopes, compiling and caching their patterns (§4.8).
package contractstore

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/jpsweeney97/phaser/internal/phaserr"
	"github.com/jpsweeney97/phaser/internal/types"
)

const (
	projectContractsDir = ".claude/contracts"
	userContractsDirName = "contracts"
	patternTimeout       = 100 * time.Millisecond
)

var ruleIDRe = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

var knownRuleTypes = map[types.RuleType]bool{
	types.RuleForbidPattern:   true,
	types.RuleRequirePattern:  true,
	types.RuleFileExists:      true,
	types.RuleFileNotExists:   true,
	types.RuleFileContains:    true,
	types.RuleFileNotContains: true,
}

// Store loads contracts from project and user scopes.
type Store struct {
	projectRoot string // directory containing .claude/contracts/
	userHome    string // directory containing .phaser/contracts/ (usually $HOME)

	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

// New returns a Store rooted at projectRoot (project scope) and userHome
// (user scope, normally os.UserHomeDir()).
func New(projectRoot, userHome string) *Store {
	return &Store{
		projectRoot: projectRoot,
		userHome:    userHome,
		compiled:    make(map[string]*regexp.Regexp),
	}
}

// LoadResult is the outcome of a Load call: the merged rule set (disabled
// contracts included; callers check Enabled) plus any warnings collected
// while skipping invalid rule files (§4.8 Validation).
type LoadResult struct {
	Contracts []*types.Contract
	Warnings  []string
}

// Load reads every *.yaml file under both scopes, validates each rule, and
// merges by rule_id with project taking precedence over user (§4.8 Scopes).
func (s *Store) Load() (*LoadResult, error) {
	result := &LoadResult{}

	userContracts, warnings, err := s.loadScope(filepath.Join(s.userHome, ".phaser", userContractsDirName), "user")
	if err != nil {
		return nil, err
	}
	result.Warnings = append(result.Warnings, warnings...)

	projectContracts, warnings, err := s.loadScope(filepath.Join(s.projectRoot, projectContractsDir), "project")
	if err != nil {
		return nil, err
	}
	result.Warnings = append(result.Warnings, warnings...)

	merged := map[string]*types.Contract{}
	for _, c := range userContracts {
		merged[c.Rule.ID] = c
	}
	for _, c := range projectContracts {
		merged[c.Rule.ID] = c // project wins on conflict
	}

	for _, c := range merged {
		result.Contracts = append(result.Contracts, c)
	}
	return result, nil
}

func (s *Store) loadScope(dir, scope string) ([]*types.Contract, []string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, phaserr.Wrap(phaserr.Resource, err)
	}

	var contracts []*types.Contract
	var warnings []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, path+": "+err.Error())
			continue
		}
		var c types.Contract
		if err := yaml.Unmarshal(data, &c); err != nil {
			warnings = append(warnings, path+": "+err.Error())
			continue
		}
		var raw map[string]interface{}
		_ = yaml.Unmarshal(data, &raw)
		if _, present := raw["enabled"]; !present {
			// enabled defaults to true when absent from the YAML (§4.8 Validation).
			c.Enabled = true
		}
		c.Scope = scope
		if warn := s.validate(&c); warn != "" {
			warnings = append(warnings, path+": "+warn)
			continue
		}
		contracts = append(contracts, &c)
	}
	return contracts, warnings, nil
}

// validate applies §4.8's Validation rules, returning a non-empty reason
// string if the rule should be skipped. Valid pattern-type rules have their
// compiled regex cached as a side effect.
func (s *Store) validate(c *types.Contract) string {
	r := c.Rule
	if !ruleIDRe.MatchString(r.ID) {
		return "invalid rule_id: " + r.ID
	}
	if !knownRuleTypes[r.Type] {
		return "unknown rule type: " + string(r.Type)
	}
	if r.Message == "" {
		return "empty message"
	}
	if _, err := doublestar.Match(r.FileGlob, "probe"); err != nil {
		return "invalid file_glob: " + r.FileGlob
	}
	if r.Severity != types.SeverityError && r.Severity != types.SeverityWarning {
		return "invalid severity: " + string(r.Severity)
	}
	if types.PatternRuleTypes[r.Type] {
		if r.Pattern == "" {
			return "missing pattern for " + string(r.Type)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return "invalid pattern: " + err.Error()
		}
		s.mu.Lock()
		s.compiled[r.ID] = re
		s.mu.Unlock()
	}
	return ""
}

// Compiled returns the cached compiled regex for a rule ID, if any.
func (s *Store) Compiled(ruleID string) (*regexp.Regexp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	re, ok := s.compiled[ruleID]
	return re, ok
}

// MatchWithTimeout runs re.FindStringIndex(content) under a 100ms deadline
// (§4.8 Validation, §4.10 Latency budget). ok is false if the match timed
// out; the caller should then skip the rule with a warning.
func MatchWithTimeout(re *regexp.Regexp, content string) (loc []int, ok bool) {
	type res struct {
		loc []int
	}
	ch := make(chan res, 1)
	go func() {
		ch <- res{loc: re.FindStringIndex(content)}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), patternTimeout)
	defer cancel()
	select {
	case r := <-ch:
		return r.loc, true
	case <-ctx.Done():
		return nil, false
	}
}

// SelectFiles returns, for each contract, the subset of candidateFiles whose
// path matches the rule's file_glob (§4.8 Selection). Contracts with no
// matching files are omitted from the result.
func SelectFiles(contracts []*types.Contract, candidateFiles []string) map[string][]string {
	out := map[string][]string{}
	for _, c := range contracts {
		if !c.Enabled {
			continue
		}
		var matched []string
		for _, f := range candidateFiles {
			if ok, _ := doublestar.Match(c.Rule.FileGlob, f); ok {
				matched = append(matched, f)
			}
		}
		if len(matched) > 0 {
			out[c.Rule.ID] = matched
		}
	}
	return out
}
