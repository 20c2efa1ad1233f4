package rules

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Provider hands out the current RuleSet. Readers never see a partially
// loaded table: a reload compiles a complete set and swaps the pointer.
type Provider struct {
	current atomic.Pointer[RuleSet]
	path    string
	logger  *logrus.Logger

	onReload func(error)
}

// NewProvider loads the rule file at path (built-in tables when empty) and
// fails if it does not compile.
func NewProvider(path string, logger *logrus.Logger) (*Provider, error) {
	rs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logrus.New()
	}

	p := &Provider{path: path, logger: logger}
	p.current.Store(rs)

	logger.WithFields(logrus.Fields{
		"source":       rs.Source,
		"alternatives": len(rs.Alternatives),
		"genes":        len(rs.Phenotypes),
		"opioids":      len(rs.Opioids),
	}).Info("Rule tables loaded")

	return p, nil
}

// NewStaticProvider wraps an already compiled set. Used by tests and embedders
// that build tables in code.
func NewStaticProvider(rs *RuleSet) *Provider {
	p := &Provider{logger: logrus.New()}
	p.current.Store(rs)
	return p
}

// Current returns the active rule set.
func (p *Provider) Current() *RuleSet {
	return p.current.Load()
}

// Path returns the rule file backing this provider, empty for built-in tables.
func (p *Provider) Path() string {
	return p.path
}

// Replace swaps in a new rule set.
func (p *Provider) Replace(rs *RuleSet) {
	if rs == nil {
		return
	}
	p.current.Store(rs)
}

// OnReload registers a callback invoked with the result of every Reload.
// Set it before starting a Watcher.
func (p *Provider) OnReload(fn func(error)) {
	p.onReload = fn
}

// Reload recompiles the rule file. On failure the previous set stays active.
func (p *Provider) Reload() error {
	rs, err := LoadFile(p.path)
	if p.onReload != nil {
		defer p.onReload(err)
	}
	if err != nil {
		p.logger.WithError(err).WithField("path", p.path).Warn("Rule reload failed, keeping previous tables")
		return err
	}

	p.current.Store(rs)
	p.logger.WithFields(logrus.Fields{
		"source":       rs.Source,
		"alternatives": len(rs.Alternatives),
		"genes":        len(rs.Phenotypes),
		"opioids":      len(rs.Opioids),
	}).Info("Rule tables reloaded")
	return nil
}
