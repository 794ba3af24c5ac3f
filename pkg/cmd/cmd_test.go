// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestEnvFileSetsFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.Nil(t, os.WriteFile(path, []byte("TIACTOR_PAYLOAD=from-env\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("TIACTOR_PAYLOAD") })

	root := NewCmd()
	var payload string
	sub := &cobra.Command{
		Use: "sub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	sub.Flags().StringVar(&payload, "payload", "default", "")
	root.AddCommand(sub)
	root.SetArgs([]string{"sub", "--env-file", path})
	require.Nil(t, root.Execute())
	require.Equal(t, "from-env", payload)
}

func TestSubCommands(t *testing.T) {
	root := NewCmd()
	AddTiActorSubCommands(root)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--env-file", ""})
	require.Nil(t, root.Execute())
	require.Contains(t, out.String(), "Release Version")

	for _, name := range []string{"server", "ping", "version"} {
		sub, _, err := root.Find([]string{name})
		require.Nil(t, err)
		require.Equal(t, name, sub.Name())
	}
}
