package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"

	"github.com/gdcc/go-dvuploader/uploader"
	"github.com/gdcc/go-dvuploader/uploader/native"
	"github.com/gdcc/go-dvuploader/uploader/network"
)

const apiTokenEnvKey = "DVUPLOADER_API_TOKEN"

type rootOptions struct {
	persistentID string
	dataverseURL string
	apiToken     string
	configPath   string
	nJobs        int
	verbose      bool
	forceNative  bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dvuploader [files...]",
		Short: "Upload files to a Dataverse dataset",
		Long: "dvuploader uploads files into a Dataverse dataset, using direct " +
			"upload to the dataset's storage when the server supports it and " +
			"falling back to the native API otherwise.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.persistentID, "pid", "", "persistent identifier of the target dataset (e.g. doi:10.70122/FK2/ABCDEF)")
	flags.StringVar(&opts.dataverseURL, "dataverse-url", "", "base URL of the Dataverse installation")
	flags.StringVar(&opts.apiToken, "api-token", "", "Dataverse API token (defaults to $"+apiTokenEnvKey+")")
	flags.StringVar(&opts.configPath, "config-path", "", "path to a YAML/JSON upload manifest")
	flags.IntVar(&opts.nJobs, "n-jobs", 0, "number of files uploaded in parallel")
	flags.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	flags.BoolVar(&opts.forceNative, "force-native", false, "skip direct upload and use the native API")

	return cmd
}

func run(ctx context.Context, opts *rootOptions, args []string) error {
	logger := log.NewLogger()
	logger.EnableDebugLog(opts.verbose)

	manifest, err := resolveManifest(opts)
	if err != nil {
		return err
	}

	specs, err := collectSpecs(manifest, args)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("nothing to upload: pass file paths or a manifest with file entries")
	}

	config, err := manifest.Options.apply(uploader.DefaultConfig())
	if err != nil {
		return err
	}
	if opts.nJobs > 0 {
		config.ParallelUploads = opts.nJobs
	}

	apiToken := opts.apiToken
	if apiToken == "" {
		apiToken = env.NewRepository().Get(apiTokenEnvKey)
	}
	if apiToken == "" {
		return fmt.Errorf("no API token: pass --api-token or set %s", apiTokenEnvKey)
	}
	if manifest.DataverseURL == "" {
		return fmt.Errorf("no Dataverse URL: pass --dataverse-url or set dataverse_url in the manifest")
	}
	if manifest.PersistentID == "" {
		return fmt.Errorf("no dataset: pass --pid or set persistent_id in the manifest")
	}

	client := network.NewClient(manifest.DataverseURL, apiToken, manifest.PersistentID, logger)

	direct := !opts.forceNative
	if direct {
		direct, err = client.SupportsDirectUpload(ctx)
		if err != nil {
			return err
		}
		if !direct {
			logger.Infof("Direct upload is not enabled for this dataset, falling back to the native API")
		}
	}

	logger.Infof("Uploading %d file(s) to %s", len(specs), manifest.PersistentID)

	var summary uploader.Summary
	if direct {
		up, err := uploader.New(config, client, logger, uploader.NewLogSink(logger))
		if err != nil {
			return err
		}
		summary = up.Upload(ctx, specs)
	} else {
		summary = native.New(config, client, logger).Upload(ctx, specs)
	}

	return report(logger, summary)
}

// resolveManifest merges CLI flags over the manifest file; flags win.
func resolveManifest(opts *rootOptions) (Manifest, error) {
	var manifest Manifest
	if opts.configPath != "" {
		loaded, err := loadManifest(opts.configPath)
		if err != nil {
			return Manifest{}, err
		}
		manifest = loaded
	}
	if opts.persistentID != "" {
		manifest.PersistentID = opts.persistentID
	}
	if opts.dataverseURL != "" {
		manifest.DataverseURL = opts.dataverseURL
	}
	return manifest, nil
}

func collectSpecs(manifest Manifest, args []string) ([]uploader.FileSpec, error) {
	specs, err := manifest.fileSpecs()
	if err != nil {
		return nil, err
	}
	for _, arg := range args {
		specs = append(specs, uploader.NewFileSpec(arg))
	}
	return specs, nil
}

func report(logger log.Logger, summary uploader.Summary) error {
	failed := summary.Failed()
	completed := len(summary.Results) - len(failed)

	logger.Printf("")
	logger.Donef("%d of %d file(s) uploaded", completed, len(summary.Results))

	if len(failed) == 0 {
		return nil
	}

	var names []string
	for _, result := range failed {
		logger.Errorf("%s: %s", result.Path, result.Err)
		names = append(names, result.Path)
	}
	return fmt.Errorf("failed to upload: %s", strings.Join(names, ", "))
}
