// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/CruxDiscovery/cmd/crux/gcs"
	"github.com/AleutianAI/CruxDiscovery/pkg/ux"
	"github.com/AleutianAI/CruxDiscovery/services/crux"
)

// runArchiveCommand uploads a session result file, or a directory of
// them, to GCS under a date-partitioned prefix.
func runArchiveCommand(cmd *cobra.Command, args []string) {
	localPath := args[0]

	if gcsProject == "" || gcsBucket == "" || gcsSAKey == "" {
		ux.Error("archive requires --project, --bucket, and --sa-key (or their CRUX_GCS_* env vars)")
		os.Exit(1)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		ux.Error(fmt.Sprintf("Cannot read %s: %v", localPath, err))
		os.Exit(1)
	}

	ctx := context.Background()
	client, err := gcs.NewClient(ctx, gcsProject, gcsBucket, gcsSAKey)
	if err != nil {
		ux.Error(fmt.Sprintf("GCS client: %v", err))
		os.Exit(1)
	}

	prefix := "sessions/" + time.Now().UTC().Format("2006/01/02")

	if info.IsDir() {
		if err := client.UploadDir(ctx, localPath, prefix); err != nil {
			ux.Error(fmt.Sprintf("Upload failed: %v", err))
			os.Exit(1)
		}
		ux.Success(fmt.Sprintf("Archived %s to gs://%s/%s", localPath, gcsBucket, prefix))
		return
	}

	if err := validateResultFile(localPath); err != nil {
		ux.Error(fmt.Sprintf("Not a session result file: %v", err))
		os.Exit(1)
	}

	objectPath := prefix + "/" + filepath.Base(localPath)
	if err := client.UploadFile(ctx, localPath, objectPath); err != nil {
		ux.Error(fmt.Sprintf("Upload failed: %v", err))
		os.Exit(1)
	}
	ux.Success(fmt.Sprintf("Archived %s to gs://%s/%s", localPath, gcsBucket, objectPath))
}

// validateResultFile checks that the file parses as an AgentResult before
// anything hits the bucket. Catches the easy mistake of archiving the
// narrative instead of the result.
func validateResultFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var res crux.AgentResult
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if res.ConfirmedCrux.Text == "" && res.ExitReason == "" {
		return fmt.Errorf("%s has no confirmed crux or exit reason", filepath.Base(path))
	}
	return nil
}
