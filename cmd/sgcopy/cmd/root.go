// Package cmd implements the sgcopy command line: a dd-style operand
// parser (if=/of=/bs=/...) layered under a cobra root command so --help,
// --version, and friends behave the way any other cobra-based tool's do.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sgcopy/sgcopy"
	"github.com/sgcopy/sgcopy/internal/logging"
)

var lastExitCode int

// LastExitCode returns the process exit code main should use after
// Execute returns an error, mirroring sg_mrq_dd/sgh_dd's SG_LIB_CAT_*
// exit-status convention rather than cobra's flat 0/1.
func LastExitCode() int {
	if lastExitCode != 0 {
		return lastExitCode
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:           "sgcopy [operand=value ...]",
	Short:         "Copy blocks between SCSI generic devices, block devices, and files",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	RunE:          runCopy,
}

// Execute parses and runs the sgcopy command, returning an error the
// caller should print and map to an exit code via LastExitCode.
func Execute() error {
	return rootCmd.Execute()
}

func runCopy(cmd *cobra.Command, args []string) error {
	parsed, err := parseArgs(args)
	if err != nil {
		lastExitCode = sgLibSyntaxError
		return err
	}

	if parsed.version {
		fmt.Println("sgcopy 1.0")
		return nil
	}
	if parsed.help > 0 {
		printUsage(parsed.help)
		return nil
	}

	if parsed.params.InPath == "" || parsed.params.OutPath == "" {
		lastExitCode = sgLibSyntaxError
		return fmt.Errorf("both if= and of= are required")
	}

	logConfig := logging.DefaultConfig()
	if parsed.verbose > 0 {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received SIGTERM, cancelling job")
		cancel()
	}()

	start := time.Now()
	result, err := sgcopy.RunCopy(ctx, parsed.params, sgcopy.Options{
		Context: ctx,
		Logger:  logger,
	})
	if err != nil {
		lastExitCode = sgLibCatOther
		return err
	}

	if result.ExitCode() != 0 {
		lastExitCode = result.ExitCode()
	}

	printSummary(result, time.Since(start))
	return nil
}

func printSummary(r *sgcopy.Result, elapsed time.Duration) {
	fmt.Fprintln(os.Stderr, r.String())
	if r.ExitCode() != 0 {
		color.New(color.FgRed).Fprintf(os.Stderr, "exit status: %d\n", r.ExitCode())
	}
}

func printUsage(detail int) {
	fmt.Println(`sgcopy: copy blocks between sg devices, block devices, and files

Usage: sgcopy if=IFILE of=OFILE [operand=value ...] [options]

Operands:
  bs=, ibs=, obs=    block size in bytes (k/M/G suffix accepted)
  bpt=               blocks per transfer (segment size)
  count=             number of blocks to copy (-1/absent: derive from size)
  if=, of=           input/output path; of=/dev/null discards output
  of2=               secondary ("tee") output path
  ofreg=             accepted for compatibility; the value is not used
  ofsplit=           split each segment's write at this many blocks
  iflag=, oflag=     comma-separated per-side flags (dio,fua,coe,v3,v4,...)
  conv=              nocreat,notrunc,sync,null,noerror
  seek=, skip=       starting LBA on the output/input side
  thr=               worker thread count
  mrq=               MRQ batch size, [I|O,]NRQS[,C]
  ae=                abort-every-N values, AEN[,MAEN] (stored; no aborts are issued)
  sdt=               stall-detection timers, CRT[,ICT] in seconds
  cdbsz=             SCSI CDB size override (6, 10, 12, or 16)

Options:
  -h, --help         show this message (repeat for more detail)
  -V, --version      show version
  -x, --verify        VERIFY instead of WRITE on the output side
  -p, --prefetch      PRE-FETCH before VERIFY (requires --verify)
  -d, --dry-run       compute and log the segment plan without issuing I/O
  -c, --chkaddr       scan each segment for the address pattern
  -v, --verbose       increase log verbosity`)

	if detail > 1 {
		fmt.Println("\nExit codes follow the SG_LIB_CAT_* convention: 0 on success,")
		fmt.Println("a SCSI sense-category code on a classified command failure,")
		fmt.Println("1 on a syntax error, 14 on a verify miscompare.")
	}
}

// Exit codes mirrored from the sg3_utils SG_LIB_CAT_* convention the
// original engine reports through.
const (
	sgLibSyntaxError = 1
	sgLibCatOther    = 99
)
