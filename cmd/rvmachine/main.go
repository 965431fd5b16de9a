// Command rvmachine runs a machine configuration for a fixed cycle
// budget and reports its resulting Merkle root, optionally writing the
// captured access log and verifying it against the roots before/after.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rvattest/machine/internal/config"
	"github.com/rvattest/machine/internal/machine"
	"github.com/rvattest/machine/internal/verify"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	configPath := fs.String("config", "", "Machine configuration YAML file")
	budget := fs.Uint64("cycles", 1000, "Cycle budget to run for")
	logPath := fs.String("access-log", "", "Write the captured access log as JSON to this file")
	proofs := fs.Bool("proofs", false, "Capture Merkle proofs in the access log")
	verifyLog := fs.Bool("verify", false, "Replay the captured access log against the before/after roots")
	oneBased := fs.Bool("one-based", false, "Report verification failure indices as 1-based instead of 0-based")
	verbose := fs.Bool("verbose", false, "Enable debug logging")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if *configPath == "" {
		fs.Usage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, *budget, *logPath, *proofs, *verifyLog, *oneBased, log); err != nil {
		fmt.Fprintf(os.Stderr, "rvmachine: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, budget uint64, logPath string, proofs, doVerify, oneBased bool, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	m, err := machine.New(cfg, machine.Options{
		LogProofs:      proofs || doVerify,
		LogAnnotations: true,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	rootBefore := m.RootHash()
	reason := m.Run(budget)
	rootAfter := m.RootHash()

	fmt.Printf("stop reason: %s\n", reason)
	fmt.Printf("mcycle:      %d\n", m.CPU.Mcycle)
	fmt.Printf("root before: %s\n", hex.EncodeToString(rootBefore[:]))
	fmt.Printf("root after:  %s\n", hex.EncodeToString(rootAfter[:]))

	lg := m.Log.Log()

	if logPath != "" {
		data, err := lg.MarshalJSON()
		if err != nil {
			return fmt.Errorf("marshal access log: %w", err)
		}
		if err := os.WriteFile(logPath, data, 0o644); err != nil {
			return fmt.Errorf("write access log: %w", err)
		}
	}

	if doVerify {
		ok, failure := verify.Verify(rootBefore, lg, rootAfter, oneBased)
		if !ok {
			return fmt.Errorf("verification failed: %s", failure)
		}
		fmt.Println("verification: ok")
	}

	return nil
}
