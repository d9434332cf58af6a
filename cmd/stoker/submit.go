package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stokehold/stoker/pkg/producer"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a training job",
	Long: `Submit a zipped training workspace to the queue.

The archive must contain a train.py and a requirements.txt somewhere in
its tree; the shallowest match wins. Flags can be replaced by a YAML
manifest:

  # job.yaml
  name: mnist-baseline
  resource: gpu:0
  image: pytorch/pytorch:2.1.0-cuda11.8-cudnn8-runtime
  archive: ./mnist.zip

  stoker submit -f job.yaml

Flags set explicitly override manifest values.`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().String("name", "", "Job name (default: archive filename)")
	submitCmd.Flags().String("resource", "cpu", "Compute slot: cpu or gpu:<n>")
	submitCmd.Flags().String("image", "", "Runtime container image")
	submitCmd.Flags().String("archive", "", "Path to the zipped workspace")
	submitCmd.Flags().StringP("file", "f", "", "YAML job manifest")
}

// jobManifest mirrors the submit flags for -f.
type jobManifest struct {
	Name     string `yaml:"name"`
	Resource string `yaml:"resource"`
	Image    string `yaml:"image"`
	Archive  string `yaml:"archive"`
}

func runSubmit(cmd *cobra.Command, args []string) error {
	req, err := submitRequest(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	env, err := openProducer(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	job, err := env.producer.Submit(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Job submitted: %s\n", job.ID)
	fmt.Printf("  Name:     %s\n", job.Name)
	fmt.Printf("  Resource: %s\n", job.Resource)
	fmt.Printf("  Image:    %s\n", job.Image)
	fmt.Println()
	fmt.Printf("Follow progress with: stoker logs -f %s\n", job.ID)
	return nil
}

// submitRequest merges the manifest (when given) with the flags; a flag
// changed on the command line wins over its manifest value.
func submitRequest(cmd *cobra.Command) (producer.SubmitRequest, error) {
	var req producer.SubmitRequest

	if manifest, _ := cmd.Flags().GetString("file"); manifest != "" {
		data, err := os.ReadFile(manifest)
		if err != nil {
			return req, fmt.Errorf("failed to read manifest: %w", err)
		}
		var m jobManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return req, fmt.Errorf("failed to parse manifest %s: %w", manifest, err)
		}
		req = producer.SubmitRequest{
			Name:        m.Name,
			Resource:    m.Resource,
			Image:       m.Image,
			ArchivePath: m.Archive,
		}
	}

	if cmd.Flags().Changed("name") {
		req.Name, _ = cmd.Flags().GetString("name")
	}
	if cmd.Flags().Changed("resource") || req.Resource == "" {
		req.Resource, _ = cmd.Flags().GetString("resource")
	}
	if cmd.Flags().Changed("image") || req.Image == "" {
		req.Image, _ = cmd.Flags().GetString("image")
	}
	if cmd.Flags().Changed("archive") || req.ArchivePath == "" {
		req.ArchivePath, _ = cmd.Flags().GetString("archive")
	}
	return req, nil
}
