// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package finalize moves a completed staging tree into the install
// directory and records what was installed.
//
// The merge is file-by-file: every staged file replaces the same-named
// install file, every staged directory is created if missing, and
// install files that were not staged are left alone. After the merge
// the staging directory is removed (best effort), the version marker
// is rewritten with the build tag, and the launcher config file is
// rewritten when the base game was part of the session or when no
// config file exists yet. A language-pack-only session never touches
// an existing config file.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Default file names inside the install directory.
const (
	DefaultVersionFile = ".version"
	DefaultConfigFile  = "config.ini"
)

// Channel holds the distribution identifiers written to the config
// file.
type Channel struct {
	Channel    int
	SubChannel int
	CPS        string
}

// Config configures a Finalizer.
type Config struct {
	InstallPath string
	StagingPath string

	// VersionFile and ConfigFile are relative to InstallPath.
	VersionFile string
	ConfigFile  string

	Channel Channel
	Logger  *slog.Logger
}

// Request describes the session being finalized.
type Request struct {
	// Tag is the resolved build version.
	Tag string

	// GameIncluded is true when the base game asset was synchronized.
	GameIncluded bool
}

// Report summarizes a Finalize call.
type Report struct {
	FilesMoved         int
	DirectoriesCreated int
	ConfigWritten      bool
	StagingRemoved     bool
}

// Finalizer performs the post-sync merge.
type Finalizer struct {
	installPath string
	stagingPath string
	versionFile string
	configFile  string
	channel     Channel
	logger      *slog.Logger
}

// New validates config and returns a Finalizer.
func New(config Config) (*Finalizer, error) {
	if config.InstallPath == "" {
		return nil, errors.New("finalize: InstallPath is required")
	}
	if config.StagingPath == "" {
		return nil, errors.New("finalize: StagingPath is required")
	}
	installPath, err := filepath.Abs(config.InstallPath)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	stagingPath, err := filepath.Abs(config.StagingPath)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	if installPath == stagingPath {
		return nil, errors.New("finalize: staging path must differ from the install path")
	}
	finalizer := &Finalizer{
		installPath: installPath,
		stagingPath: stagingPath,
		versionFile: config.VersionFile,
		configFile:  config.ConfigFile,
		channel:     config.Channel,
		logger:      config.Logger,
	}
	if finalizer.versionFile == "" {
		finalizer.versionFile = DefaultVersionFile
	}
	if finalizer.configFile == "" {
		finalizer.configFile = DefaultConfigFile
	}
	if finalizer.logger == nil {
		finalizer.logger = slog.New(slog.DiscardHandler)
	}
	return finalizer, nil
}

// Finalize merges staging into the install directory and writes the
// markers. A missing staging directory is not an error: a session in
// which every file was already installed has nothing to move.
func (f *Finalizer) Finalize(ctx context.Context, request Request) (*Report, error) {
	if request.Tag == "" {
		return nil, errors.New("finalize: empty build tag")
	}
	report := &Report{}
	if err := os.MkdirAll(f.installPath, 0o755); err != nil {
		return report, fmt.Errorf("creating install directory: %w", err)
	}

	if err := f.merge(ctx, report); err != nil {
		return report, err
	}

	if err := os.RemoveAll(f.stagingPath); err != nil {
		f.logger.Warn("removing staging directory failed", "path", f.stagingPath, "error", err)
	} else {
		report.StagingRemoved = true
	}

	versionPath := filepath.Join(f.installPath, f.versionFile)
	if err := writeAtomic(versionPath, []byte(request.Tag)); err != nil {
		return report, fmt.Errorf("writing version marker: %w", err)
	}

	configPath := filepath.Join(f.installPath, f.configFile)
	writeConfig := request.GameIncluded
	if !writeConfig {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			writeConfig = true
		} else if err != nil {
			return report, fmt.Errorf("checking config file: %w", err)
		}
	}
	if writeConfig {
		if err := writeAtomic(configPath, f.renderConfig(request.Tag)); err != nil {
			return report, fmt.Errorf("writing config file: %w", err)
		}
		report.ConfigWritten = true
	}

	f.logger.Info("install finalized",
		"tag", request.Tag,
		"files_moved", report.FilesMoved,
		"directories_created", report.DirectoriesCreated,
		"config_written", report.ConfigWritten,
	)
	return report, nil
}

func (f *Finalizer) merge(ctx context.Context, report *Report) error {
	info, err := os.Stat(f.stagingPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat staging directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("staging path %s is not a directory", f.stagingPath)
	}

	return filepath.WalkDir(f.stagingPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		relative, err := filepath.Rel(f.stagingPath, path)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}
		destination := filepath.Join(f.installPath, relative)

		if entry.IsDir() {
			if _, err := os.Stat(destination); errors.Is(err, fs.ErrNotExist) {
				report.DirectoriesCreated++
			}
			if err := os.MkdirAll(destination, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", relative, err)
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			f.logger.Warn("skipping non-regular staged entry", "path", relative)
			return nil
		}
		if err := moveFile(path, destination); err != nil {
			return fmt.Errorf("moving %s: %w", relative, err)
		}
		report.FilesMoved++
		return nil
	})
}

// moveFile renames source over destination, falling back to copy and
// remove when the two are on different filesystems.
func moveFile(source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	err := os.Rename(source, destination)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	input, err := os.Open(source)
	if err != nil {
		return err
	}
	defer input.Close()

	temporaryPath := destination + ".tmp"
	output, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(output, input); err != nil {
		output.Close()
		os.Remove(temporaryPath)
		return err
	}
	if err := output.Close(); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	if err := os.Rename(temporaryPath, destination); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	return os.Remove(source)
}

func (f *Finalizer) renderConfig(tag string) []byte {
	var builder strings.Builder
	builder.WriteString("[general]\n")
	builder.WriteString("channel=" + strconv.Itoa(f.channel.Channel) + "\n")
	builder.WriteString("sub_channel=" + strconv.Itoa(f.channel.SubChannel) + "\n")
	builder.WriteString("cps=" + f.channel.CPS + "\n")
	builder.WriteString("game_version=" + tag + "\n")
	return []byte(builder.String())
}

// writeAtomic writes data to a temporary file beside path, syncs it,
// and renames it into place. Readers never see a partial write.
func writeAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	return nil
}
