// Package policy decides authorization outcomes for Authorize and
// TransactionEvent requests.
package policy

import (
	"os"

	"github.com/juju/errors"
	"github.com/lorenzodonini/ocpp-go/ocpp2.0.1/types"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeOffline   Mode = "offline"
	ModeWhitelist Mode = "whitelist"
	ModeBlacklist Mode = "blacklist"
	// ModeRateLimit always answers NotAtThisTime; no request rate is measured.
	ModeRateLimit Mode = "rate_limit"
)

const (
	WhitelistName = "whitelist"
	BlacklistName = "blacklist"
)

var Modes = []Mode{ModeNormal, ModeOffline, ModeWhitelist, ModeBlacklist, ModeRateLimit}

const DefaultTotalCost = 10

func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeNormal, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", errors.NotValidf("authorization mode %q", s)
}

// Lists answers membership questions about the token lists.
type Lists interface {
	InList(list, member string) (bool, error)
}

type Policy struct {
	mode      Mode
	lists     Lists
	totalCost float64
}

func New(mode Mode, lists Lists, totalCost float64) (*Policy, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if (mode == ModeWhitelist || mode == ModeBlacklist) && lists == nil {
		return nil, errors.NotValidf("%s mode without token lists", mode)
	}
	return &Policy{mode: mode, lists: lists, totalCost: totalCost}, nil
}

func (p *Policy) Mode() Mode { return p.mode }

// Authorize returns the status to report for idToken.
func (p *Policy) Authorize(idToken string) (types.AuthorizationStatus, error) {
	switch p.mode {
	case ModeOffline:
		return types.AuthorizationStatusUnknown, nil
	case ModeRateLimit:
		return types.AuthorizationStatusNotAtThisTime, nil
	case ModeWhitelist:
		listed, err := p.lists.InList(WhitelistName, idToken)
		if err != nil {
			return "", errors.Annotatef(err, "looking up %q in whitelist", idToken)
		}
		if listed {
			return types.AuthorizationStatusAccepted, nil
		}
		return types.AuthorizationStatusInvalid, nil
	case ModeBlacklist:
		listed, err := p.lists.InList(BlacklistName, idToken)
		if err != nil {
			return "", errors.Annotatef(err, "looking up %q in blacklist", idToken)
		}
		if listed {
			return types.AuthorizationStatusBlocked, nil
		}
		return types.AuthorizationStatusAccepted, nil
	default:
		return types.AuthorizationStatusAccepted, nil
	}
}

// TotalCost is the running cost reported on every Updated transaction event.
// It is a fixed placeholder, not a tariff.
func (p *Policy) TotalCost() *float64 {
	cost := p.totalCost
	return &cost
}

// File is the YAML policy file.
type File struct {
	Mode      string   `yaml:"mode"`
	TotalCost *float64 `yaml:"total_cost"`
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading policy file")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Annotatef(err, "parsing policy file %s", path)
	}
	if _, err := ParseMode(f.Mode); err != nil {
		return nil, errors.Trace(err)
	}
	return &f, nil
}
