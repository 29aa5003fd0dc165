package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tutu-network/convoy/internal/app/convoy"
	"github.com/tutu-network/convoy/internal/domain"
)

// printJSON writes v indented to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSling reports a dispatch result and turns a rejection into an error
// so the exit status reflects it.
func printSling(w io.Writer, res convoy.SlingResult) error {
	if jsonOutput {
		if err := printJSON(w, res); err != nil {
			return err
		}
	} else if res.Success {
		fmt.Fprintf(w, "dispatched %s → %s\n", res.TaskID, res.HookID)
	}
	if res.Success {
		return nil
	}
	msg := res.Error
	if res.Reason != "" {
		msg += " (" + res.Reason + ")"
	}
	return fmt.Errorf("%s: %s: %s", res.TaskID, res.Code, msg)
}

// readInput returns the literal JSON of s, or the content of the file it
// names when s starts with "@". Empty input is nil.
func readInput(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	data := []byte(s)
	if path, ok := strings.CutPrefix(s, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		data = b
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("input is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func parseRole(s string) (domain.Role, error) {
	r := domain.Role(strings.ToLower(s))
	if s != "" && !r.Valid() {
		return "", fmt.Errorf("%w: %q (want translator, validator or remediator)", domain.ErrUnknownRole, s)
	}
	return r, nil
}
