package provider

import (
	"fmt"
	"strings"
)

// ModelRef names a model as "provider/model", e.g. "openai/gpt-4o-mini".
// The model part may itself contain slashes.
type ModelRef string

func NewModelRef(providerID, modelID string) ModelRef {
	return ModelRef(providerID + "/" + modelID)
}

func (r ModelRef) Provider() string {
	p, _, ok := strings.Cut(string(r), "/")
	if !ok {
		return ""
	}
	return p
}

func (r ModelRef) Model() string {
	_, m, ok := strings.Cut(string(r), "/")
	if !ok {
		return string(r)
	}
	return m
}

func (r ModelRef) String() string {
	return string(r)
}

func (r ModelRef) Valid() bool {
	return r.Provider() != "" && r.Model() != ""
}

func ParseModelRef(s string) (ModelRef, error) {
	ref := ModelRef(s)
	if !ref.Valid() {
		return "", fmt.Errorf("invalid model ref %q: expected format provider/model", s)
	}
	return ref, nil
}
