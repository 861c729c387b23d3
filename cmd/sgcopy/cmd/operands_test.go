package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseArgsBasicOperands(t *testing.T) {
	p, err := parseArgs([]string{"if=/dev/sg0", "of=/dev/sg1", "bs=4k", "count=100", "bpt=32"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if p.params.InPath != "/dev/sg0" || p.params.OutPath != "/dev/sg1" {
		t.Fatalf("unexpected paths: %+v", p.params)
	}
	if p.params.Scheduler.BlockSize != 4096 {
		t.Fatalf("BlockSize = %d, want 4096", p.params.Scheduler.BlockSize)
	}
	if p.params.Scheduler.TotalCount != 100 {
		t.Fatalf("TotalCount = %d, want 100", p.params.Scheduler.TotalCount)
	}
	if p.params.Scheduler.BlocksPerTransfer != 32 {
		t.Fatalf("BlocksPerTransfer = %d, want 32", p.params.Scheduler.BlocksPerTransfer)
	}
}

func TestParseArgsOptions(t *testing.T) {
	p, err := parseArgs([]string{"if=a", "of=b", "--verify", "-p", "--dry-run", "-c", "-v"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if !p.verify || !p.prefetch || !p.dryRun || !p.chkAddr {
		t.Fatalf("expected all boolean options set: %+v", p)
	}
	if p.verbose != 1 {
		t.Fatalf("verbose = %d, want 1", p.verbose)
	}
}

func TestParseArgsObsContradictsBs(t *testing.T) {
	_, err := parseArgs([]string{"if=a", "of=b", "bs=512", "obs=1024"})
	if err == nil {
		t.Fatalf("expected contradiction error")
	}
}

func TestParseArgsUnknownOperand(t *testing.T) {
	_, err := parseArgs([]string{"if=a", "of=b", "bogus=1"})
	if err == nil {
		t.Fatalf("expected error for unknown operand")
	}
}

func TestParseArgsUnknownToken(t *testing.T) {
	_, err := parseArgs([]string{"if=a", "of=b", "notaflag"})
	if err == nil {
		t.Fatalf("expected error for unrecognized argument")
	}
}

func TestParseSideFlags(t *testing.T) {
	f, err := parseSideFlags("dio,fua,v4,coe")
	if err != nil {
		t.Fatalf("parseSideFlags: %v", err)
	}
	if !f.DIO || !f.FUA || !f.V4 || !f.COE {
		t.Fatalf("unexpected flags: %+v", f)
	}
}

func TestParseSideFlagsUnknown(t *testing.T) {
	if _, err := parseSideFlags("bogus"); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}

func TestParseSizeIntSuffixes(t *testing.T) {
	cases := map[string]int{
		"512":  512,
		"4k":   4096,
		"1M":   1024 * 1024,
		"2G":   2 * 1024 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := parseSizeInt(in)
		if err != nil {
			t.Fatalf("parseSizeInt(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseSizeInt(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseArgsConvNull(t *testing.T) {
	p, err := parseArgs([]string{"if=a", "of=b", "conv=null"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if p.params.OutPath != "/dev/null" {
		t.Fatalf("OutPath = %q, want /dev/null", p.params.OutPath)
	}
}

func TestParseArgsDenyListOperand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denylist.yaml")
	if err := os.WriteFile(path, []byte("entries:\n  - path_regex: '^/dev/sda$'\n    reason: boot disk\n"), 0644); err != nil {
		t.Fatalf("write denylist fixture: %v", err)
	}

	p, err := parseArgs([]string{"if=/dev/sda", "of=b", "denylist=" + path})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if denied, reason := p.params.InOpts.DenyList.Denied("/dev/sda"); !denied || reason != "boot disk" {
		t.Fatalf("DenyList.Denied(/dev/sda) = %v, %q, want true, \"boot disk\"", denied, reason)
	}
}

func TestParseArgsDenyListBadPath(t *testing.T) {
	if _, err := parseArgs([]string{"if=a", "of=b", "denylist=/nonexistent/denylist.yaml"}); err == nil {
		t.Fatalf("expected error for unreadable denylist= path")
	}
}

func TestParseArgsDenyListAppliesToAllSides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denylist.yaml")
	if err := os.WriteFile(path, []byte("entries:\n  - path_regex: '^/dev/nope$'\n    reason: off limits\n"), 0644); err != nil {
		t.Fatalf("write denylist fixture: %v", err)
	}

	p, err := parseArgs([]string{"if=a", "of=b", "of2=c", "denylist=" + path})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if p.params.InOpts.DenyList == nil || p.params.OutOpts.DenyList == nil || p.params.TeeOpts.DenyList == nil {
		t.Fatalf("denylist not applied to all sides: %+v", p.params)
	}
}

func TestParseArgsEnvOperandDefault(t *testing.T) {
	t.Setenv("SGCOPY_BS", "2k")
	p, err := parseArgs([]string{"if=a", "of=b"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if p.params.Scheduler.BlockSize != 2048 {
		t.Fatalf("BlockSize = %d, want 2048 from SGCOPY_BS", p.params.Scheduler.BlockSize)
	}
}

func TestParseArgsExplicitOperandOverridesEnv(t *testing.T) {
	t.Setenv("SGCOPY_BS", "2k")
	p, err := parseArgs([]string{"if=a", "of=b", "bs=512"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if p.params.Scheduler.BlockSize != 512 {
		t.Fatalf("BlockSize = %d, want 512 from explicit operand", p.params.Scheduler.BlockSize)
	}
}
