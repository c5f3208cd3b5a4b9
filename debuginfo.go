// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package elfremove

import (
	"debug/elf"
	"encoding/hex"
	"os"
	"path/filepath"
)

// findExternalSymtab implements the external-symtab provider chain
// from spec §4.1: caller-configured debug directories, the well-known
// system debug directory, then build-id-indexed paths, each tried in
// turn; the first companion file whose .symtab is readable wins. When
// every candidate fails it logs a warning and returns a MissingSection
// error, which openFile only logs before carrying on without a .symtab.
func (e *ElfFile) findExternalSymtab(path string, cfg Config) error {
	archDir := "x86_64-linux-gnu"
	if e.arch.GoArch == "386" {
		archDir = "i386-linux-gnu"
	}
	base := filepath.Base(path)
	debugDir := filepath.Join(string(os.PathSeparator), "usr", "lib", "debug", "lib", archDir)
	buildIDDir := filepath.Join(string(os.PathSeparator), "usr", "lib", "debug", ".build-id")

	var paths []string
	for _, dir := range cfg.ExternalDebugDirs {
		paths = append(paths, filepath.Join(dir, base), filepath.Join(dir, base+".debug"))
	}
	paths = append(paths, filepath.Join(debugDir, base))

	buildID := e.readBuildID()
	if buildID != "" {
		if cfg.ExternalBuildIDDir != "" {
			paths = append(paths, filepath.Join(cfg.ExternalBuildIDDir, buildID[:2], buildID[2:]+".debug"))
		}
		paths = append(paths, filepath.Join(buildIDDir, buildID[:2], buildID[2:]+".debug"))
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			e.log.WithField("path", p).Debug("external symtab candidate not found")
			continue
		}
		fd, err := os.Open(p)
		if err != nil {
			e.log.WithError(err).WithField("path", p).Debug("failed to open external symtab candidate")
			continue
		}
		ext, err := elf.NewFile(fd)
		if err != nil {
			fd.Close()
			e.log.WithError(err).WithField("path", p).Debug("failed to parse external ELF file")
			continue
		}
		sec := ext.Section(".symtab")
		if sec == nil {
			fd.Close()
			e.log.WithField("path", p).Debug("no .symtab in external file")
			continue
		}
		e.externalFd = fd
		e.symtab = &SectionRef{
			Kind: SectionSymtab, Name: ".symtab", Index: synthIndex,
			Offset: int64(sec.Offset), Size: int64(sec.Size), EntSize: int64(sec.Entsize),
			Link: int(sec.Link), Info: int(sec.Info), ReadOnly: true,
		}
		if str := ext.Section(".strtab"); str != nil {
			e.strtab = &SectionRef{
				Kind: SectionDynstr, Name: ".strtab", Index: synthIndex,
				Offset: int64(str.Offset), Size: int64(str.Size), ReadOnly: true,
			}
		}
		e.log.WithField("path", p).Debug("found external symtab")
		return nil
	}

	if cfg.UseDebuginfod && buildID != "" {
		e.log.Warn("USE_DEBUGINFOD set but no vendored debuginfod client is wired in; skipping")
	}

	e.log.Warn("no external .symtab provider found; symtab operations will be no-ops")
	return newErr(MissingSection, "no external .symtab provider succeeded")
}

// readBuildID extracts the hex build-id from .note.gnu.build-id, or
// "" if absent.
func (e *ElfFile) readBuildID() string {
	ef, err := elf.NewFile(e.f)
	if err != nil {
		return ""
	}
	sec := ef.Section(".note.gnu.build-id")
	if sec == nil {
		return ""
	}
	data, err := sec.Data()
	if err != nil || len(data) < 16 {
		return ""
	}
	order := ef.ByteOrder
	namesz := order.Uint32(data[0:4])
	descsz := order.Uint32(data[4:8])
	ntype := order.Uint32(data[8:12])
	if ntype != 3 { // NT_GNU_BUILD_ID
		return ""
	}
	descStart := 12 + align4(int(namesz))
	descEnd := descStart + int(descsz)
	if descEnd > len(data) {
		return ""
	}
	return hex.EncodeToString(data[descStart:descEnd])
}
