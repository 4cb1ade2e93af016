package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/InsulaLabs/txt2img/internal/imageref"
	"github.com/InsulaLabs/txt2img/tools"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func invokeCmd() *cobra.Command {
	var (
		rawParams []string
		outDir    string
	)

	cmd := &cobra.Command{
		Use:   "invoke <tool>",
		Short: "Run one tool invocation and print its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, plugin, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			w := &messageWriter{out: cmd.OutOrStdout(), dir: outDir}
			return plugin.Invoke(ctx, args[0], params, w.write)
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "Tool parameter as key=value. JSON values are decoded, anything else is a string.")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory blob messages are written to.")
	return cmd
}

func validateCmd() *cobra.Command {
	var tool string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configured credentials against the model endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, plugin, _, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := plugin.Validate(cmd.Context(), tool, rt.RT_Credentials()); err != nil {
				return err
			}
			color.HiGreen("Credentials are valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&tool, "tool", "t", "", "Also check what this tool needs, e.g. the object store for s3edit.")
	return cmd
}

// parseParams turns key=value pairs into a parameter mapping.
func parseParams(raw []string) (tools.Params, error) {
	params := tools.Params{}
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", kv)
		}
		params[key] = parseValue(value)
	}
	return params, nil
}

func parseValue(value string) any {
	dec := json.NewDecoder(strings.NewReader(value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return value
	}
	return v
}

type messageWriter struct {
	out   io.Writer
	dir   string
	blobs int
}

func (m *messageWriter) write(msg tools.Message) error {
	switch msg.Type {
	case tools.TypeText:
		_, err := fmt.Fprint(m.out, msg.Text)
		return err
	case tools.TypeImage:
		_, err := fmt.Fprintf(m.out, "\nimage: %s\n", msg.URL)
		return err
	case tools.TypeJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(msg.JSON); err != nil {
			return err
		}
		_, err := m.out.Write(buf.Bytes())
		return err
	case tools.TypeBlob:
		if err := os.MkdirAll(m.dir, 0755); err != nil {
			return err
		}
		m.blobs++
		path := filepath.Join(m.dir, fmt.Sprintf("txt2img-%d.%s", m.blobs, imageref.ExtForMime(msg.MimeType)))
		if err := os.WriteFile(path, msg.Blob, 0644); err != nil {
			return err
		}
		_, err := fmt.Fprintf(m.out, "\nwrote %s (%s, %d bytes)\n", path, msg.MimeType, len(msg.Blob))
		return err
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}
