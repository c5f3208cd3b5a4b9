// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jzh18/elfremove"
)

func newRootCmd() *cobra.Command {
	var (
		remove        []string
		removeAddr    []string
		localFuncs    []string
		complement    bool
		overwrite     bool
		externalDebug []string
		buildIDDir    string
	)

	cmd := &cobra.Command{
		Use:   "elfremove <library>",
		Short: "Surgically remove unused symbols from an ELF shared library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := elfremove.ConfigFromEnv()
			if len(externalDebug) > 0 {
				cfg.ExternalDebugDirs = externalDebug
			}
			if buildIDDir != "" {
				cfg.ExternalBuildIDDir = buildIDDir
			}

			rm, err := elfremove.Open(args[0], cfg)
			if err != nil {
				return err
			}
			defer rm.Close()

			var rep *elfremove.Report
			switch {
			case len(localFuncs) > 0:
				fns, err := parseLocalFunctions(localFuncs)
				if err != nil {
					return err
				}
				rep, err = rm.RemoveLocalFunctions(fns, overwrite)
				if err != nil {
					return err
				}
			case len(removeAddr) > 0:
				addrs, err := parseAddrs(removeAddr)
				if err != nil {
					return err
				}
				rep, err = rm.RemoveSymbolsByAddress(addrs, complement, overwrite)
				if err != nil {
					return err
				}
			default:
				rep, err = rm.RemoveSymbols(remove, complement, overwrite)
				if err != nil {
					return err
				}
			}

			printReport(cmd, rep)

			if failed, err := rm.VerifyHashes(); err == nil && len(failed) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d symbols failed hash table verification: %v\n", len(failed), failed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&remove, "remove", nil, "symbol names to remove")
	cmd.Flags().StringSliceVar(&removeAddr, "remove-addr", nil, "symbol addresses (hex) to remove")
	cmd.Flags().StringSliceVar(&localFuncs, "local-function", nil, "addr:size pairs of local functions to purge from .symtab")
	cmd.Flags().BoolVar(&complement, "complement", false, "remove every symbol NOT matching --remove/--remove-addr")
	cmd.Flags().BoolVar(&overwrite, "overwrite-code", true, "overwrite removed function bodies with 0xCC")
	cmd.Flags().StringSliceVar(&externalDebug, "external-symtab", nil, "directories to search for a companion .symtab/.debug file")
	cmd.Flags().StringVar(&buildIDDir, "build-id-dir", "", "build-id indexed debug directory")

	return cmd
}

func parseAddrs(in []string) ([]uint64, error) {
	out := make([]uint64, len(in))
	for i, s := range in {
		v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseLocalFunctions(in []string) ([]elfremove.LocalFunction, error) {
	out := make([]elfremove.LocalFunction, len(in))
	for i, s := range in {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --local-function %q, want addr:size", s)
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address in %q: %w", s, err)
		}
		size, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size in %q: %w", s, err)
		}
		out[i] = elfremove.LocalFunction{Address: addr, Size: size}
	}
	return out, nil
}

func printReport(cmd *cobra.Command, rep *elfremove.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "removed %d symbols, %d bytes\n", len(rep.Removed), rep.BytesRemoved())
	for _, s := range rep.Removed {
		name := s.Name
		if name == "" {
			name = "<local>"
		}
		fmt.Fprintf(out, "  %-40s 0x%x (%d bytes)\n", name, s.Value, s.Size)
	}
}
