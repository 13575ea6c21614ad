package storage

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Persisted keys. Values are strings; absent keys read as empty/false.
const (
	KeyProfileLinks    = "profileLinks"
	KeyMessageTemplate = "messageTemplate"
	KeyDelayMin        = "delayMin"
	KeyDelayMax        = "delayMax"
	KeyTaskRunning     = "taskRunning"
)

var formKeys = []string{KeyProfileLinks, KeyMessageTemplate, KeyDelayMin, KeyDelayMax}

// KV is the persistence collaborator. Last writer wins.
type KV interface {
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, items map[string]string) error
}

// Form is the saved UI form. DelayMin/DelayMax are seconds as typed.
type Form struct {
	ProfileLinks    string `json:"profileLinks"`
	MessageTemplate string `json:"messageTemplate"`
	DelayMin        string `json:"delayMin"`
	DelayMax        string `json:"delayMax"`
}

func LoadForm(ctx context.Context, kv KV) (Form, error) {
	m, err := kv.Get(ctx, formKeys...)
	if err != nil {
		return Form{}, err
	}
	return Form{
		ProfileLinks:    m[KeyProfileLinks],
		MessageTemplate: m[KeyMessageTemplate],
		DelayMin:        m[KeyDelayMin],
		DelayMax:        m[KeyDelayMax],
	}, nil
}

func SaveForm(ctx context.Context, kv KV, f Form) error {
	return kv.Set(ctx, map[string]string{
		KeyProfileLinks:    f.ProfileLinks,
		KeyMessageTemplate: f.MessageTemplate,
		KeyDelayMin:        f.DelayMin,
		KeyDelayMax:        f.DelayMax,
	})
}

// DelaysMs parses the second-valued delay fields into milliseconds; values
// without a leading integer become 0.
func (f Form) DelaysMs() (min, max int) {
	return secondsToMs(f.DelayMin), secondsToMs(f.DelayMax)
}

var leadingInt = regexp.MustCompile(`^[+-]?[0-9]+`)

// secondsToMs reads the leading integer, so "30.5" and "30s" both mean 30.
func secondsToMs(s string) int {
	n, err := strconv.Atoi(leadingInt.FindString(strings.TrimSpace(s)))
	if err != nil {
		return 0
	}
	return n * 1000
}

// Flags persists the coarse "was running" flag.
type Flags struct {
	KV KV
}

func (f Flags) SetRunning(ctx context.Context, running bool) error {
	return f.KV.Set(ctx, map[string]string{KeyTaskRunning: strconv.FormatBool(running)})
}

func (f Flags) Running(ctx context.Context) (bool, error) {
	m, err := f.KV.Get(ctx, KeyTaskRunning)
	if err != nil {
		return false, err
	}
	v, _ := strconv.ParseBool(m[KeyTaskRunning])
	return v, nil
}
