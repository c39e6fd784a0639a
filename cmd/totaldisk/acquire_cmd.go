package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/open-edge-platform/totaldisk/internal/acquire"
	"github.com/open-edge-platform/totaldisk/internal/tdconfig"
	"github.com/open-edge-platform/totaldisk/internal/utils/logger"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	acquireBlockSize     int64
	acquireAlgos         []string
	acquireSkipBadBlocks bool
	acquireVerify        bool
	acquireSync          bool
	acquireByteLimit     int64
	acquireStartSkip     int64
	acquireDestFormat    string
	acquireShowProgress  bool
	acquireFormat        string = "text"
)

// AcquireSummary is the payload of the acquire subcommand.
type AcquireSummary struct {
	Source         string            `json:"source" yaml:"source"`
	Destination    string            `json:"destination" yaml:"destination"`
	DestFormat     string            `json:"destFormat" yaml:"destFormat"`
	BytesAcquired  int64             `json:"bytesAcquired" yaml:"bytesAcquired"`
	BytesWritten   int64             `json:"bytesWritten,omitempty" yaml:"bytesWritten,omitempty"`
	ElapsedSeconds float64           `json:"elapsedSeconds" yaml:"elapsedSeconds"`
	BytesPerSecond float64           `json:"bytesPerSecond" yaml:"bytesPerSecond"`
	BadBlocks      int64             `json:"badBlocks,omitempty" yaml:"badBlocks,omitempty"`
	Verified       *bool             `json:"verified,omitempty" yaml:"verified,omitempty"`
	Hashes         map[string]string `json:"hashes,omitempty" yaml:"hashes,omitempty"`
}

func createAcquireCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acquire [flags] SOURCE DEST",
		Short: "runs a verified, hashing block-copy from SOURCE to DEST",
		Long: `Acquire reads SOURCE block by block, optionally hashing, skipping bad
blocks with zero-fill substitution, and verifying the destination after
the copy completes. DEST is written as a raw image or a VHD container,
per --dest-format. Press Ctrl-C to cancel; the acquirer flushes no new
data and reports Cancelled.`,
		Args:    cobra.ExactArgs(2),
		PreRunE: validateFormat(&acquireFormat),
		RunE:    executeAcquire,
	}

	def := tdconfig.DefaultAcquireOptions()
	cmd.Flags().Int64Var(&acquireBlockSize, "block-size", def.BlockSize, "block size in bytes")
	cmd.Flags().StringArrayVar(&acquireAlgos, "algo", nil, "hash algorithm to compute (repeatable): md5, sha1, sha256")
	cmd.Flags().BoolVar(&acquireSkipBadBlocks, "skip-bad-blocks", false, "substitute zero-filled blocks for unreadable source blocks instead of failing")
	cmd.Flags().BoolVar(&acquireVerify, "verify", false, "re-read and re-hash the destination after copying to confirm it matches")
	cmd.Flags().BoolVar(&acquireSync, "sync", false, "flush the destination to stable storage after every block")
	cmd.Flags().Int64Var(&acquireByteLimit, "byte-limit", 0, "stop after this many bytes (0 = no limit)")
	cmd.Flags().Int64Var(&acquireStartSkip, "start-skip", 0, "skip this many bytes of the source before copying")
	cmd.Flags().StringVar(&acquireDestFormat, "dest-format", string(tdconfig.DestRaw), "destination container: raw, vhd-fixed, or vhd-dynamic")
	cmd.Flags().StringVar(&acquireFormat, "format", "text", "result output format: text, json, or yaml")
	cmd.Flags().BoolVar(&acquireShowProgress, "progress", true, "show a progress bar while acquiring")

	return cmd
}

func executeAcquire(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	sourcePath, destPath := args[0], args[1]

	algos, err := parseHashAlgorithms(acquireAlgos)
	if err != nil {
		return err
	}

	opts := tdconfig.DefaultAcquireOptions()
	if acquireBlockSize > 0 {
		opts.BlockSize = acquireBlockSize
	}
	opts.Algorithms = algos
	opts.SkipBadBlocks = acquireSkipBadBlocks
	opts.VerifyAfterCopy = acquireVerify
	opts.SyncEachWrite = acquireSync
	opts.ByteLimit = acquireByteLimit
	opts.StartSkip = acquireStartSkip
	opts.DestFormat = tdconfig.DestFormat(acquireDestFormat)

	log.Infof("acquiring %s -> %s (format=%s)", sourcePath, destPath, opts.DestFormat)

	cancel := installCancelOnInterrupt()

	var bar *progressbar.ProgressBar
	if acquireShowProgress {
		bar = newAcquireProgressBar(sourceSizeHint(sourcePath, opts))
		defer func() { _ = bar.Finish() }()
	}
	progress := acquireProgressCallback(bar)

	var summary AcquireSummary
	switch opts.DestFormat {
	case tdconfig.DestRaw, "":
		result, err := acquire.AcquireToFile(sourcePath, destPath, opts, progress, cancel)
		if err != nil {
			return fmt.Errorf("acquire: %w", err)
		}
		summary = buildAcquireSummary(sourcePath, destPath, opts, result)

	case tdconfig.DestVHDFixed, tdconfig.DestVHDDynamic:
		result, err := runVHDAcquire(sourcePath, destPath, opts, progress, cancel)
		if err != nil {
			return fmt.Errorf("acquire: %w", err)
		}
		summary = buildAcquireSummary(sourcePath, destPath, opts, &result.Result)
		summary.BytesWritten = result.BytesWritten

	default:
		return fmt.Errorf("unsupported --dest-format %q (supported: raw, vhd-fixed, vhd-dynamic)", acquireDestFormat)
	}

	return writeFormatted(cmd.OutOrStdout(), acquireFormat, &summary, true, func(w io.Writer) {
		renderAcquireSummaryText(w, &summary)
	})
}

func runVHDAcquire(sourcePath, destPath string, opts tdconfig.AcquireOptions, progress acquire.Callback, cancel *atomic.Bool) (*acquire.VHDResult, error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	if opts.StartSkip > 0 {
		if _, err := src.Seek(opts.StartSkip, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek source: %w", err)
		}
	}

	stat, err := src.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	sourceSize := stat.Size() - opts.StartSkip
	if opts.ByteLimit > 0 && opts.ByteLimit < sourceSize {
		sourceSize = opts.ByteLimit
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	defer dest.Close()

	switch opts.DestFormat {
	case tdconfig.DestVHDFixed:
		return acquire.WriteFixedVHD(src, sourceSize, dest, opts, progress, cancel)
	case tdconfig.DestVHDDynamic:
		return acquire.WriteDynamicVHD(io.NewSectionReader(src, opts.StartSkip, sourceSize), sourceSize, dest, opts, progress, cancel)
	default:
		return nil, fmt.Errorf("unsupported vhd dest format %q", opts.DestFormat)
	}
}

func buildAcquireSummary(sourcePath, destPath string, opts tdconfig.AcquireOptions, result *acquire.Result) AcquireSummary {
	summary := AcquireSummary{
		Source:         sourcePath,
		Destination:    destPath,
		DestFormat:     string(opts.DestFormat),
		BytesAcquired:  result.BytesAcquired,
		ElapsedSeconds: result.Elapsed.Seconds(),
		BytesPerSecond: result.BytesPerSecond,
		BadBlocks:      result.BadBlocks,
		Verified:       result.Verified,
	}
	if len(result.Hashes) > 0 {
		summary.Hashes = make(map[string]string, len(result.Hashes))
		for _, h := range result.Hashes {
			summary.Hashes[string(h.Algorithm)] = h.Hex
		}
	}
	return summary
}

func renderAcquireSummaryText(w io.Writer, s *AcquireSummary) {
	fmt.Fprintln(w, "Acquisition")
	fmt.Fprintln(w, "-----------")
	fmt.Fprintf(w, "Source:\t%s\n", s.Source)
	fmt.Fprintf(w, "Destination:\t%s (%s)\n", s.Destination, s.DestFormat)
	fmt.Fprintf(w, "Bytes acquired:\t%d\n", s.BytesAcquired)
	if s.BytesWritten > 0 {
		fmt.Fprintf(w, "Bytes written to container:\t%d\n", s.BytesWritten)
	}
	fmt.Fprintf(w, "Elapsed:\t%.2fs\n", s.ElapsedSeconds)
	fmt.Fprintf(w, "Rate:\t%.0f B/s\n", s.BytesPerSecond)
	if s.BadBlocks > 0 {
		fmt.Fprintf(w, "Bad blocks:\t%d\n", s.BadBlocks)
	}
	if s.Verified != nil {
		fmt.Fprintf(w, "Verified:\t%t\n", *s.Verified)
	}
	for _, algo := range []string{"md5", "sha1", "sha256"} {
		if hex, ok := s.Hashes[algo]; ok {
			fmt.Fprintf(w, "%s:\t%s\n", algo, hex)
		}
	}
}

// installCancelOnInterrupt returns a flag the acquirer checks each block
// boundary, set when the process receives an interrupt signal.
func installCancelOnInterrupt() *atomic.Bool {
	var cancel atomic.Bool
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		<-ch
		cancel.Store(true)
	}()
	return &cancel
}

func sourceSizeHint(sourcePath string, opts tdconfig.AcquireOptions) int64 {
	stat, err := os.Stat(sourcePath)
	if err != nil {
		return -1
	}
	size := stat.Size() - opts.StartSkip
	if size < 0 {
		return -1
	}
	if opts.ByteLimit > 0 && opts.ByteLimit < size {
		return opts.ByteLimit
	}
	return size
}

func newAcquireProgressBar(total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("acquiring"),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func acquireProgressCallback(bar *progressbar.ProgressBar) acquire.Callback {
	if bar == nil {
		return nil
	}
	return func(p acquire.Progress) {
		_ = bar.Set64(p.BytesDone)
	}
}
