package api

import (
	"fmt"
	"regexp"
)

const maxSnippetIDLen = 128

var (
	// snippetIDPattern matches ids usable as document keys and, once
	// lowercased, as container names.
	snippetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

	supportedLanguages = map[string]bool{"": true, "javascript": true, "js": true, "node": true}
)

func validateSnippetID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(id) > maxSnippetIDLen {
		return fmt.Errorf("id must not exceed %d characters", maxSnippetIDLen)
	}
	if !snippetIDPattern.MatchString(id) {
		return fmt.Errorf("id must start with a letter or digit and contain only letters, digits, '_', '.' and '-'")
	}
	return nil
}

// validateSubmitRequest validates snippet submission parameters
func validateSubmitRequest(req submitRequest) error {
	if err := validateSnippetID(req.ID); err != nil {
		return err
	}
	if req.Text == "" {
		return fmt.Errorf("text is required")
	}
	if !supportedLanguages[req.Language] {
		return fmt.Errorf("unsupported language %q", req.Language)
	}
	return nil
}
