package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/stemsi/examhub/internal/model"
)

//go:embed catalog.json
var builtinCatalog []byte

type catalog struct {
	Exams []*model.ExamDefinition `json:"exams"`
}

// loadCatalog decodes and validates a catalog. Duplicate exam ids are rejected.
func loadCatalog(r io.Reader) ([]*model.ExamDefinition, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var c catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(c.Exams) == 0 {
		return nil, errors.New("catalog has no exams")
	}

	seen := make(map[string]bool, len(c.Exams))
	for i, def := range c.Exams {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("exam %d: %w", i, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate exam id %q", def.ID)
		}
		seen[def.ID] = true
	}
	return c.Exams, nil
}
