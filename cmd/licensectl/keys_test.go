package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"medilicense/services/keygen"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	jsonOutput = false

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestGenerateStandard(t *testing.T) {
	out, err := run(t, "generate", "--count", "3")
	require.NoError(t, err)

	keys := strings.Fields(out)
	require.Len(t, keys, 3)
	for _, k := range keys {
		require.True(t, keygen.ValidateFormat(k, keygen.StrategyStandard), k)
	}
}

func TestGenerateSegmentedJSON(t *testing.T) {
	out, err := run(t, "generate", "--strategy", "segmented", "--format", "CLINIC-{segment1}-{segment2}", "--json")
	require.NoError(t, err)

	var body struct {
		Keys  []string `json:"keys"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, 1, body.Count)
	require.Regexp(t, `^CLINIC-[A-Z0-9]{4}-[A-Z0-9]{4}$`, body.Keys[0])
}

func TestGenerateUnknownStrategy(t *testing.T) {
	_, err := run(t, "generate", "--strategy", "quantum")
	require.ErrorIs(t, err, keygen.ErrInvalidStrategy)
}

func TestParse(t *testing.T) {
	out, err := run(t, "parse", "MEDI-ABCD-EFGH-JKLM-NPQR")
	require.NoError(t, err)
	require.Contains(t, out, "prefix:   MEDI")
	require.Contains(t, out, "format:   standard")
}

func TestValidateFormat(t *testing.T) {
	out, err := run(t, "validate-format", "MEDI-ABCDEFGHJKLM", "--strategy", "compact")
	require.NoError(t, err)
	require.Contains(t, out, "valid=true")

	_, err = run(t, "validate-format", "MEDI-ABC", "--strategy", "standard")
	require.Error(t, err)
}
