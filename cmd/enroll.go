package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/analyzer"
	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/enroll"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image-or-dir>...",
	Short: "Enroll an employee from reference photos",
	Long: `Register an employee and store one reference embedding per photo.

Every photo must contain exactly one face. Directories are expanded to the
.jpg, .jpeg, .png and .webp files they contain. Nothing is written unless at
least --min-faces photos are usable.

Examples:
  # Enroll a new employee from a directory of photos
  facetrack enroll --id E1 --name "Eva Novák" --department R&D ./photos/eva

  # Replace the reference photos of an existing employee
  facetrack enroll --id E1 --name "Eva Novák" --update ./photos/eva-2026`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("id", "", "Employee ID (required)")
	enrollCmd.Flags().String("name", "", "Employee name (required)")
	enrollCmd.Flags().String("department", "", "Department")
	enrollCmd.Flags().String("designation", "", "Designation")
	enrollCmd.Flags().String("email", "", "Email")
	enrollCmd.Flags().String("phone", "", "Phone")
	enrollCmd.Flags().Int("min-faces", enroll.DefaultMinFaces, "Minimum number of usable photos")
	enrollCmd.Flags().Bool("update", false, "Replace the enrollment of an existing employee")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
	_ = enrollCmd.MarkFlagRequired("id")
	_ = enrollCmd.MarkFlagRequired("name")
}

// EnrollResult is the JSON output of the enroll command
type EnrollResult struct {
	Success    bool     `json:"success"`
	EmployeeID string   `json:"employee_id"`
	Created    bool     `json:"created"`
	Stored     int      `json:"stored"`
	Skipped    []string `json:"skipped,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func runEnroll(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	images, err := enroll.CollectImages(args...)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %v", args)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	index := database.NewIdentityIndex()
	e := enroll.New(store, analyzer.NewClient(cfg.Analyzer.URL, cfg.Analyzer.Model, cfg.Analyzer.MaxWidth), index, mustGetInt(cmd, "min-faces"))

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(len(images),
			progressbar.OptionSetDescription("Analyzing photos"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("photos"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	res, enrollErr := e.Enroll(ctx, enroll.Request{
		Employee: database.Employee{
			ID:          mustGetString(cmd, "id"),
			Name:        mustGetString(cmd, "name"),
			Department:  mustGetString(cmd, "department"),
			Designation: mustGetString(cmd, "designation"),
			Email:       mustGetString(cmd, "email"),
			Phone:       mustGetString(cmd, "phone"),
		},
		Images:         images,
		UpdateExisting: mustGetBool(cmd, "update"),
		OnImage: func(string, error) {
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	out := EnrollResult{Success: enrollErr == nil, EmployeeID: mustGetString(cmd, "id")}
	if res != nil {
		out.Created = res.Created
		out.Stored = res.Stored
		for _, s := range res.Skipped {
			out.Skipped = append(out.Skipped, s.Error())
		}
	}
	if enrollErr != nil {
		out.Error = enrollErr.Error()
	}

	if jsonOutput {
		if err := outputJSON(out); err != nil {
			return err
		}
		return enrollErr
	}

	for _, s := range out.Skipped {
		fmt.Printf("  skipped %s\n", s)
	}
	if enrollErr != nil {
		return fmt.Errorf("enrollment failed: %w", enrollErr)
	}
	action := "Updated"
	if out.Created {
		action = "Enrolled"
	}
	fmt.Printf("%s %s with %d photos (%d skipped)\n", action, out.EmployeeID, out.Stored, len(out.Skipped))
	saveIndex(cfg, index)
	return nil
}
