package hostconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"
)

// ApplyFile amends an opencode.json or opencode.jsonc file. A missing file
// is created. Nothing is written when the file already carries the
// amendment. Comments in a JSONC file are not preserved on rewrite.
func ApplyFile(path string, opts Options, logger zerolog.Logger) (bool, error) {
	opts = opts.normalized()

	raw, err := os.ReadFile(path)
	mode := os.FileMode(0644)
	switch {
	case os.IsNotExist(err):
		raw = []byte("{}")
	case err != nil:
		return false, fmt.Errorf("failed to read host config: %w", err)
	default:
		if info, statErr := os.Stat(path); statErr == nil {
			mode = info.Mode().Perm()
		}
	}

	stripped := jsonc.ToJSON(raw)
	lossy := !bytes.Equal(stripped, raw)
	if len(bytes.TrimSpace(stripped)) == 0 {
		stripped = []byte("{}")
	}
	if !gjson.ValidBytes(stripped) || !gjson.ParseBytes(stripped).IsObject() {
		return false, fmt.Errorf("host config %s is not a JSON object", path)
	}

	updated, changed, err := amend(stripped, opts)
	if err != nil {
		return false, fmt.Errorf("failed to amend host config: %w", err)
	}
	if !changed {
		logger.Debug().Str("path", path).Msg("Host config already configured")
		return false, nil
	}

	if lossy {
		logger.Warn().Str("path", path).Msg("Rewriting host config drops its comments")
	}

	pretty := bytes.TrimSpace([]byte(gjson.GetBytes(updated, "@pretty").Raw))
	if err := writeAtomic(path, pretty, mode); err != nil {
		return false, err
	}

	logger.Info().
		Str("path", path).
		Str("agent", opts.Agent.Name).
		Str("bash_pattern", opts.BashPattern).
		Msg("Host config updated")
	return true, nil
}

func amend(data []byte, opts Options) ([]byte, bool, error) {
	changed := false
	var err error

	ensureObject := func(path string) {
		if err != nil {
			return
		}
		if !gjson.GetBytes(data, path).IsObject() {
			data, err = sjson.SetRawBytes(data, path, []byte("{}"))
			changed = true
		}
	}
	setString := func(path, value string) {
		if err != nil {
			return
		}
		current := gjson.GetBytes(data, path)
		if current.Type == gjson.String && current.Str == value {
			return
		}
		data, err = sjson.SetBytes(data, path, value)
		changed = true
	}

	agentPath := "agent." + escapePath(opts.Agent.Name)
	ensureObject("agent")
	ensureObject(agentPath)
	for _, f := range opts.Agent.fields() {
		setString(agentPath+"."+f.key, f.value)
	}

	ensureObject("permission")
	if bash := gjson.GetBytes(data, "permission.bash"); err == nil && bash.Type == gjson.String {
		data, err = sjson.SetBytes(data, "permission.bash", map[string]string{wildcardKey: bash.Str})
		changed = true
	}
	ensureObject("permission.bash")
	setString("permission.bash."+escapePath(opts.BashPattern), opts.BashAction)

	if err != nil {
		return nil, false, err
	}
	return data, changed, nil
}

// escapePath quotes a single key for use in a gjson or sjson path.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	tmp.Close()

	if err := os.Chmod(tmpPath, mode); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace host config: %w", err)
	}
	return nil
}
