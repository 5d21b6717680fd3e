package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/watchsync/internal/bser"
	"github.com/Aman-CERP/watchsync/internal/daemon"
	werrors "github.com/Aman-CERP/watchsync/internal/errors"
	"github.com/Aman-CERP/watchsync/internal/output"
)

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Inspect daemon internals",
		Long: `Low-level tools for diagnosing stuck syncs and wire problems.

Commands:
  cookies      List a root's outstanding cookie files
  recrawl      Rebuild a root's watches, aborting pending syncs
  bser-decode  Decode BSER from a file or stdin and print it as JSON`,
	}

	cmd.AddCommand(newDebugCookiesCmd())
	cmd.AddCommand(newDebugRecrawlCmd())
	cmd.AddCommand(newDebugBSERDecodeCmd())
	return cmd
}

func newDebugCookiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cookies [root]",
		Short: "List outstanding cookie files",
		Long: `List cookie files the daemon created but has not yet seen come back from
the watcher. A cookie that lingers here points at a watcher that has
stopped delivering events.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootArg(args)
			if err != nil {
				return err
			}
			client, err := newClient(daemon.EncodingJSON)
			if err != nil {
				return err
			}

			files, err := client.Cookies(cmd.Context(), root)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).List(files, "no outstanding cookies")
			return nil
		},
	}
}

func newDebugRecrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recrawl [root]",
		Short: "Rebuild a root's watches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootArg(args)
			if err != nil {
				return err
			}
			client, err := newClient(daemon.EncodingJSON)
			if err != nil {
				return err
			}

			res, err := client.Recrawl(cmd.Context(), root)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Recrawled %s (%d total)", res.Root, res.Recrawls)
			return nil
		},
	}
}

func newDebugBSERDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bser-decode [file]",
		Short: "Decode BSER and print it as JSON",
		Long: `Decode BSER from a file, or stdin when no file is given, and print each
value as JSON. Input that starts with a PDU header is read as a stream of
PDUs. Anything else is decoded as one bare value.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) > 0 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return werrors.IOError("failed to read input", err)
			}

			values, err := decodeBSER(data)
			out := output.NewPlain(cmd.OutOrStdout())
			for _, v := range values {
				if jerr := out.JSON(v); jerr != nil {
					return jerr
				}
			}
			return err
		},
	}
}

// decodeBSER decodes every value in data. Values decoded before a failure
// are returned alongside the error.
func decodeBSER(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, werrors.ValidationError("no input", nil)
	}

	if !bser.IsPDU(data) {
		v, n, err := bser.Decode(data)
		if err != nil {
			return nil, malformed(err, 0)
		}
		if n != len(data) {
			return []any{v}, werrors.New(werrors.ErrCodeMalformedPDU,
				fmt.Sprintf("%d trailing bytes after value", len(data)-n), nil)
		}
		return []any{v}, nil
	}

	var values []any
	for off := 0; off < len(data); {
		v, _, n, err := bser.DecodePDU(data[off:])
		if err != nil {
			return values, malformed(err, off)
		}
		values = append(values, v)
		off += n
	}
	return values, nil
}

func malformed(err error, pduOffset int) error {
	return werrors.New(werrors.ErrCodeMalformedPDU, "malformed BSER", err).
		WithDetail("pdu_offset", fmt.Sprint(pduOffset))
}
