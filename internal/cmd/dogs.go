package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dogshouse/dogshouse/internal/core"
	"github.com/dogshouse/dogshouse/internal/observability"
	"github.com/dogshouse/dogshouse/internal/output"
)

var dogsCmd = &cobra.Command{
	Use:   "dogs",
	Short: "Inspect and manage stored dogs",
}

var dogsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored dogs",
	Long: `List stored dogs with the same sorting and paging rules as GET /dogs.

Examples:
  dogshouse dogs list --attribute weight --order desc
  dogshouse dogs list --page-number 2 --page-size 5 --output-format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		query, err := dogsQueryFromFlags(cmd)
		if err != nil {
			return err
		}
		outPath, outDir, err := resolveOutputTargets(cmd)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		dogs, err := db.ListDogs(cmd.Context(), query)
		if err != nil {
			return err
		}

		rendered, err := output.FormatDogs(format, dogs)
		if err != nil {
			return err
		}

		if outDir != "" {
			if outDir, err = ensureOutDir(outDir); err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("dogs.list.%s", outputExtension(format)))
		}

		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, strings.TrimRight(rendered, "\n"))
		return err
	},
}

var dogsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a dog",
	Long: `Add a dog with the same validation as POST /dog.

Example:
  dogshouse dogs add --name Doggy --color red --tail-length 173 --weight 33`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := dogRequestFromFlags(cmd)
		if err != nil {
			return err
		}
		req = req.Normalize()
		if err := req.Validate(); err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		dog, err := db.CreateDog(cmd.Context(), req.Dog())
		if errors.Is(err, core.ErrDuplicateDogName) {
			return fmt.Errorf("dog %q already exists", req.Name)
		}
		if err != nil {
			return err
		}

		observability.CLILogger.Debug("Dog created", zap.Int64("id", dog.ID), zap.String("name", dog.Name))
		rendered, err := output.FormatDogs(output.FormatTable, []core.Dog{dog})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
		return err
	},
}

var dogsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert dogs from a YAML file",
	Long: `Insert dogs from a YAML file. Dogs whose name is already stored are skipped.

File format:
  dogs:
    - name: Neo
      color: red&amber
      tail_length: 22
      weight: 32`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cmd.Flags().GetString("file")
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		dogs, err := parseSeedFile(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		added, err := db.SeedDogs(cmd.Context(), dogs)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d of %d dogs (%d already stored)\n", added, len(dogs), len(dogs)-added)
		return err
	},
}

type seedFile struct {
	Dogs []core.CreateDogRequest `yaml:"dogs"`
}

// parseSeedFile decodes and validates every entry. Duplicate names within
// the file are rejected so the result does not depend on row order.
func parseSeedFile(data []byte) ([]core.Dog, error) {
	var file seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(file.Dogs) == 0 {
		return nil, errors.New("seed file contains no dogs")
	}

	seen := make(map[string]int, len(file.Dogs))
	dogs := make([]core.Dog, 0, len(file.Dogs))
	for i, entry := range file.Dogs {
		req := entry.Normalize()
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("dog %d: %w", i+1, err)
		}
		key := strings.ToLower(req.Name)
		if first, dup := seen[key]; dup {
			return nil, fmt.Errorf("dog %d: name %q repeats dog %d", i+1, req.Name, first)
		}
		seen[key] = i + 1
		dogs = append(dogs, req.Dog())
	}
	return dogs, nil
}

func dogsQueryFromFlags(cmd *cobra.Command) (core.DogsQuery, error) {
	flags := cmd.Flags()
	attribute, _ := flags.GetString("attribute")
	order, _ := flags.GetString("order")
	number, _ := flags.GetString("page-number")
	size, _ := flags.GetString("page-size")
	return core.ParseDogsQuery(attribute, order, number, size)
}

func dogRequestFromFlags(cmd *cobra.Command) (core.CreateDogRequest, error) {
	flags := cmd.Flags()
	var req core.CreateDogRequest
	var err error
	if req.Name, err = flags.GetString("name"); err != nil {
		return req, err
	}
	if req.Color, err = flags.GetString("color"); err != nil {
		return req, err
	}
	if req.TailLength, err = flags.GetInt("tail-length"); err != nil {
		return req, err
	}
	if req.Weight, err = flags.GetInt("weight"); err != nil {
		return req, err
	}
	return req, nil
}

func init() {
	dogsListCmd.Flags().String("attribute", "", "Sort attribute: name|color|tail_length|weight")
	dogsListCmd.Flags().String("order", string(core.OrderAsc), "Sort order: asc|desc")
	dogsListCmd.Flags().String("page-number", "", "Page number (default 1)")
	dogsListCmd.Flags().String("page-size", "", "Page size (default 10)")
	dogsListCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	dogsListCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	dogsListCmd.Flags().String("out-dir", "", "Write output to a directory")

	dogsAddCmd.Flags().String("name", "", "Dog name (required, unique)")
	dogsAddCmd.Flags().String("color", "", "Dog color (required)")
	dogsAddCmd.Flags().Int("tail-length", 0, "Tail length (zero or positive)")
	dogsAddCmd.Flags().Int("weight", 0, "Weight (positive)")
	_ = dogsAddCmd.MarkFlagRequired("name")
	_ = dogsAddCmd.MarkFlagRequired("color")
	_ = dogsAddCmd.MarkFlagRequired("weight")

	dogsSeedCmd.Flags().String("file", "", "YAML file with a top-level dogs list")
	_ = dogsSeedCmd.MarkFlagRequired("file")

	dogsCmd.AddCommand(dogsListCmd, dogsAddCmd, dogsSeedCmd)
	rootCmd.AddCommand(dogsCmd)
}
