package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/psyflow/pkg/blob"
	"github.com/rmax-ai/psyflow/pkg/client"
	"github.com/rmax-ai/psyflow/pkg/document"
	"github.com/rmax-ai/psyflow/pkg/store"
	"github.com/rmax-ai/psyflow/pkg/workflow"
)

func experimentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"exp"},
		Short:   "Manage experiments on the daemon",
	}
	cmd.AddCommand(
		experimentListCmd(a),
		experimentCreateCmd(a),
		experimentShowCmd(a),
		experimentCompileCmd(a),
		experimentArtifactsCmd(a),
		experimentDeleteCmd(a),
	)
	return cmd
}

func experimentListCmd(a *app) *cobra.Command {
	var skip, limit int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List experiments, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.client().ListExperiments(cmd.Context(), skip, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(list.Data) == 0 {
				subtle.Fprintln(w, "  No experiments.")
				return nil
			}
			rows := make([][]string, 0, len(list.Data))
			for _, e := range list.Data {
				rows = append(rows, []string{
					e.ID,
					e.Name,
					statusColor(string(e.Status)).Sprint(e.Status),
					strconv.FormatInt(e.Revision, 10),
					e.UpdatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			printTable(w, []string{"ID", "NAME", "STATUS", "REV", "UPDATED"}, rows)
			fmt.Fprintf(w, "\n  %s\n", subtle.Sprintf("%d of %d", len(list.Data), list.Count))
			return nil
		},
	}
	cmd.Flags().IntVar(&skip, "skip", 0, "number of experiments to skip")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of experiments")
	return cmd
}

func experimentCreateCmd(a *app) *cobra.Command {
	var req client.CreateRequest
	var from string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an experiment, optionally from a document file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			if from != "" {
				doc, err := readDocumentFile(from, "")
				if err != nil {
					return err
				}
				raw, err := document.Marshal(doc)
				if err != nil {
					return err
				}
				req.PsyexpData = raw
			}
			exp, err := a.client().CreateExperiment(cmd.Context(), req)
			if err != nil {
				return err
			}
			good.Fprintf(cmd.OutOrStdout(), "Created experiment %s\n", exp.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Description, "description", "", "experiment description")
	cmd.Flags().StringVar(&req.CreatedBy, "created-by", os.Getenv("USER"), "owner recorded on the experiment")
	cmd.Flags().StringVar(&from, "from", "", "initial document (.json, .yaml or .yml)")
	return cmd
}

func experimentShowCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, done, err := a.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			exp, err := backend.ReadExperiment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(exp)
			}
			printExperiment(cmd, exp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw record")
	return cmd
}

func printExperiment(cmd *cobra.Command, exp *store.Experiment) {
	w := cmd.OutOrStdout()
	field := func(name, value string) {
		fmt.Fprintf(w, "  %s  %s\n", brand.Sprintf("%-11s", name), value)
	}
	field("id", exp.ID)
	field("name", exp.Name)
	if exp.Description != "" {
		field("description", exp.Description)
	}
	field("status", statusColor(string(exp.Status)).Sprint(exp.Status))
	field("revision", strconv.FormatInt(exp.Revision, 10))
	field("updated", exp.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	doc, err := document.Parse(exp.PsyexpData)
	switch {
	case err != nil:
		field("document", bad.Sprint("unreadable: "+err.Error()))
	case doc.ReactFlow == nil:
		field("document", subtle.Sprint("empty"))
	default:
		field("document", fmt.Sprintf("%d nodes, %d edges", len(doc.ReactFlow.Nodes), len(doc.ReactFlow.Edges)))
	}
	if exp.PythonCode != "" {
		field("code", fmt.Sprintf("%d bytes", len(exp.PythonCode)))
	}
}

func experimentCompileCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compile <id>",
		Short: "Compile the saved document and print the script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, done, err := a.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			exp, err := backend.CompileExperiment(cmd.Context(), args[0])
			if err != nil {
				switch {
				case client.IsConflict(err):
					return fmt.Errorf("a compile of %s is already running", args[0])
				case client.Detail(err) != "":
					return fmt.Errorf("compilation failed: %s", client.Detail(err))
				}
				return err
			}
			if inv, ok := backend.(workflow.Invalidator); ok {
				inv.Invalidate(cmd.Context(), exp.ID)
			}

			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), exp.PythonCode)
				return nil
			}
			if err := os.WriteFile(output, []byte(exp.PythonCode), 0o644); err != nil {
				return err
			}
			good.Fprintf(cmd.OutOrStdout(), "Compiled %s to %s\n", exp.ID, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the script to a file")
	return cmd
}

func experimentArtifactsCmd(a *app) *cobra.Command {
	var (
		revision int64
		latest   bool
		output   string
	)
	cmd := &cobra.Command{
		Use:   "artifacts <id>",
		Short: "List stored scripts, or print one with --revision or --latest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if revision == 0 && !latest {
				list, err := a.client().Artifacts(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(list.Revisions) == 0 {
					subtle.Fprintln(w, "  No compiled scripts.")
					return nil
				}
				rows := make([][]string, 0, len(list.Revisions))
				for _, rev := range list.Revisions {
					rows = append(rows, []string{strconv.FormatInt(rev, 10), blob.RevisionScriptKey(list.ExperimentID, rev)})
				}
				printTable(w, []string{"REV", "KEY"}, rows)
				return nil
			}

			art, err := a.client().Artifact(cmd.Context(), args[0], revision)
			if err != nil {
				if client.IsNotFound(err) && client.Detail(err) != "" {
					return errors.New(client.Detail(err))
				}
				return err
			}
			if output == "" {
				fmt.Fprint(w, art.PythonCode)
				return nil
			}
			if err := os.WriteFile(output, []byte(art.PythonCode), 0o644); err != nil {
				return err
			}
			good.Fprintf(w, "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().Int64Var(&revision, "revision", 0, "print the script compiled from this revision")
	cmd.Flags().BoolVar(&latest, "latest", false, "print the most recently compiled script")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the script to a file")
	cmd.MarkFlagsMutuallyExclusive("revision", "latest")
	return cmd
}

func experimentDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an experiment",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, done, err := a.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			exp, err := a.client().DeleteExperiment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if inv, ok := backend.(workflow.Invalidator); ok {
				inv.Invalidate(cmd.Context(), exp.ID)
			}
			good.Fprintf(cmd.OutOrStdout(), "Deleted experiment %s (%s)\n", exp.ID, exp.Name)
			return nil
		},
	}
}
