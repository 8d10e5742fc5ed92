package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/netdisk-go/internal/backend"
	"github.com/tonimelisma/netdisk-go/internal/netdisk"
	"github.com/tonimelisma/netdisk-go/internal/pathutil"
)

const localFilePermissions = 0o644

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the backend is reachable and the credentials work",
		Args:  cobra.NoArgs,
		RunE:  runVerify,
	}
}

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}

	cmd.Flags().BoolP("recursive", "r", false, "list every folder beneath path")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file, replacing any existing one",
		Long: `Upload a file. Missing parent folders are created. When remote-path is
omitted the file keeps its name and lands in the backend's base path.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runPut,
	}
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <remote-path>",
		Short: "Print a file as UTF-8 text",
		Args:  cobra.ExactArgs(1),
		RunE:  runCat,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder. Folders are deleted with their contents.
Deleting something that does not exist is not an error.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder (recursive)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url [path]",
		Short: "Print a URL for browsing a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runURL,
	}
}

// verifyJSON is the JSON output schema for verify.
type verifyJSON struct {
	Backend  string `json:"backend"`
	Type     string `json:"type"`
	BasePath string `json:"base_path"`
}

func runVerify(cmd *cobra.Command, _ []string) error {
	sess, err := openSession(cmd.Context(), buildLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	out := verifyJSON{Backend: sess.Name, Type: backend.Type(sess.Spec), BasePath: sess.FS.BasePath()}

	if flagJSON {
		return encodeJSON(cmd.OutOrStdout(), out)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) OK, base path %s\n", out.Backend, out.Type, out.BasePath)

	return nil
}

// lsJSONItem is the JSON output schema for a single item in ls output.
type lsJSONItem struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       uint64 `json:"size"`
	IsDir      bool   `json:"is_dir"`
	CreatedAt  int64  `json:"created_at_ms"`
	ModifiedAt int64  `json:"modified_at_ms"`
	ID         string `json:"id,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// listedItem pairs an entry with its path relative to the listed folder.
type listedItem struct {
	rel  string
	info netdisk.FileInfo
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := pathutil.Root
	if len(args) > 0 {
		remotePath = pathutil.Normalize(args[0])
	}

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	sess, err := openSession(ctx, buildLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.Logger.Debug("ls", slog.String("path", remotePath), slog.Bool("recursive", recursive))

	dir := sess.FS.OpenDir(remotePath)

	var items []listedItem

	if recursive {
		err = netdisk.Walk(ctx, dir, func(rel string, info netdisk.FileInfo) error {
			items = append(items, listedItem{rel: pathutil.Relative(rel), info: info})
			return nil
		})
	} else {
		var entries []netdisk.FileInfo

		entries, err = dir.Entries(ctx)
		for _, e := range entries {
			items = append(items, listedItem{rel: e.Name, info: e})
		}
	}

	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	if flagJSON {
		return printItemsJSON(cmd.OutOrStdout(), items)
	}

	printItemsTable(cmd.OutOrStdout(), items, !recursive)

	return nil
}

func printItemsJSON(w io.Writer, items []listedItem) error {
	out := make([]lsJSONItem, 0, len(items))
	for i := range items {
		f := &items[i].info
		out = append(out, lsJSONItem{
			Name:       f.Name,
			Path:       f.Path,
			Size:       f.Size,
			IsDir:      f.IsDir,
			CreatedAt:  f.CreatedMillis(),
			ModifiedAt: f.ModifiedMillis(),
			ID:         f.ID,
			Digest:     f.Digest,
		})
	}

	return encodeJSON(w, out)
}

// printItemsTable prints folders first, then files, each alphabetically.
// Recursive listings keep walk order so folders precede their contents.
func printItemsTable(w io.Writer, items []listedItem, foldersFirst bool) {
	if foldersFirst {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].info.IsDir != items[j].info.IsDir {
				return items[i].info.IsDir
			}

			return items[i].rel < items[j].rel
		})
	}

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		name := items[i].rel
		size := formatSize(items[i].info.Size)

		if items[i].info.IsDir {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(items[i].info.ModifiedAt)})
	}

	printTable(w, headers, rows)
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := pathutil.Normalize(args[0])
	ctx := cmd.Context()

	sess, err := openSession(ctx, buildLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	info, err := netdisk.Stat(ctx, sess.FS, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	if info.IsDir {
		return fmt.Errorf("%q is a folder, not a file", remotePath)
	}

	localPath := info.Name
	if len(args) > 1 {
		localPath = args[1]
	}

	if fi, statErr := os.Stat(localPath); statErr == nil && fi.IsDir() {
		localPath = filepath.Join(localPath, info.Name)
	}

	data, err := netdisk.ReadBytes(ctx, sess.FS.Open(info))
	if err != nil {
		return fmt.Errorf("downloading %q: %w", remotePath, err)
	}

	if err := writeLocalFile(localPath, data, info.ModifiedAt); err != nil {
		return err
	}

	sess.Logger.Debug("download complete", slog.String("local_path", localPath), slog.Int("bytes", len(data)))
	statusf("Downloaded %s (%s)\n", localPath, formatSize(uint64(len(data))))

	return nil
}

// writeLocalFile writes data to a ".partial" sibling and renames it into
// place, so an interrupted download never leaves a truncated file under the
// final name. The modification time is carried over when known.
func writeLocalFile(localPath string, data []byte, modified time.Time) error {
	partialPath := localPath + ".partial"

	if err := os.WriteFile(partialPath, data, localFilePermissions); err != nil {
		os.Remove(partialPath)
		return fmt.Errorf("writing %q: %w", partialPath, err)
	}

	if !modified.IsZero() {
		if err := os.Chtimes(partialPath, modified, modified); err != nil {
			os.Remove(partialPath)
			return fmt.Errorf("setting times on %q: %w", partialPath, err)
		}
	}

	if err := os.Rename(partialPath, localPath); err != nil {
		os.Remove(partialPath)
		return fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	ctx := cmd.Context()

	fi, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("reading %q: %w", localPath, err)
	}

	if fi.IsDir() {
		return fmt.Errorf("%q is a folder; use backup to upload folders", localPath)
	}

	remotePath := pathutil.Join(filepath.Base(localPath))
	if len(args) > 1 {
		remotePath = pathutil.Normalize(args[1])
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading %q: %w", localPath, err)
	}

	sess, err := openSession(ctx, buildLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	if parent := pathutil.Parent(remotePath); !pathutil.IsRoot(parent) {
		if err := netdisk.MkdirAll(ctx, sess.FS, parent); err != nil {
			return err
		}
	}

	if err := sess.FS.Create(remotePath).Write(ctx, data); err != nil {
		return fmt.Errorf("uploading %q: %w", remotePath, err)
	}

	if err := sess.Persist(); err != nil {
		return err
	}

	sess.Logger.Debug("upload complete", slog.String("remote_path", remotePath), slog.Int("bytes", len(data)))
	statusf("Uploaded %s (%s)\n", remotePath, formatSize(uint64(len(data))))

	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	remotePath := pathutil.Normalize(args[0])
	ctx := cmd.Context()

	sess, err := openSession(ctx, buildLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	info, err := netdisk.Stat(ctx, sess.FS, remotePath)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	if info.IsDir {
		return fmt.Errorf("%q is a folder, not a file", remotePath)
	}

	text, err := netdisk.ReadText(ctx, sess.FS.Open(info))
	if err != nil {
		return fmt.Errorf("reading %q: %w", remotePath, err)
	}

	_, err = io.WriteString(cmd.OutOrStdout(), text)

	return err
}

func runRm(cmd *cobra.Command, args []string) error {
	remotePath := pathutil.Normalize(args[0])
	ctx := cmd.Context()

	sess, err := openSession(ctx, buildLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.FS.Delete(ctx, remotePath); err != nil {
		return fmt.Errorf("deleting %q: %w", remotePath, err)
	}

	if err := sess.Persist(); err != nil {
		return err
	}

	statusf("Deleted %s\n", remotePath)

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	remotePath := pathutil.Normalize(args[0])
	ctx := cmd.Context()

	sess, err := openSession(ctx, buildLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := netdisk.MkdirAll(ctx, sess.FS, remotePath); err != nil {
		return err
	}

	if err := sess.Persist(); err != nil {
		return err
	}

	statusf("Created %s\n", remotePath)

	return nil
}

func runURL(cmd *cobra.Command, args []string) error {
	remotePath := pathutil.Root
	if len(args) > 0 {
		remotePath = pathutil.Normalize(args[0])
	}

	ctx := cmd.Context()

	sess, err := openSession(ctx, buildLogger())
	if err != nil {
		return err
	}
	defer sess.Close()

	u, err := sess.FS.OpenDir(remotePath).DirURL(ctx)
	if err != nil {
		return fmt.Errorf("building URL for %q: %w", remotePath, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), u)

	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
