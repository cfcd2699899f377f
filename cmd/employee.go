package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facetrack/internal/database"
	"github.com/kozaktomas/facetrack/internal/enroll"
	"github.com/kozaktomas/facetrack/internal/facematch"
)

var employeeCmd = &cobra.Command{
	Use:   "employee",
	Short: "Manage employees",
}

var employeeAddCmd = &cobra.Command{
	Use:   "add <id> <name>",
	Short: "Add or update an employee without photos",
	Args:  cobra.ExactArgs(2),
	RunE:  runEmployeeAdd,
}

var employeeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active employees",
	Long: `List active employees with the number of embeddings each has.

--search matches names regardless of case and diacritics, so "novak"
finds "Eva Novák".`,
	RunE: runEmployeeList,
}

var employeeRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an employee from recognition",
	Long: `Deactivate an employee. Embeddings are archived by default and deleted
with --hard.`,
	Args: cobra.ExactArgs(1),
	RunE: runEmployeeRemove,
}

func init() {
	rootCmd.AddCommand(employeeCmd)
	employeeCmd.AddCommand(employeeAddCmd, employeeListCmd, employeeRemoveCmd)

	employeeAddCmd.Flags().String("department", "", "Department")
	employeeAddCmd.Flags().String("designation", "", "Designation")
	employeeAddCmd.Flags().String("email", "", "Email")
	employeeAddCmd.Flags().String("phone", "", "Phone")

	employeeListCmd.Flags().String("search", "", "Filter by name")
	employeeListCmd.Flags().Bool("json", false, "Output as JSON")

	employeeRemoveCmd.Flags().Bool("hard", false, "Delete embeddings instead of archiving them")
}

func runEmployeeAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	emp := database.Employee{
		ID:          args[0],
		Name:        args[1],
		Department:  mustGetString(cmd, "department"),
		Designation: mustGetString(cmd, "designation"),
		Email:       mustGetString(cmd, "email"),
		Phone:       mustGetString(cmd, "phone"),
		Active:      true,
	}
	if err := store.SaveEmployee(ctx, emp); err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	fmt.Printf("Saved employee %s (%s)\n", emp.ID, emp.Name)
	return nil
}

// EmployeeRow is one line of the employee list
type EmployeeRow struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department,omitempty"`
	Embeddings int    `json:"embeddings"`
}

func runEmployeeList(cmd *cobra.Command, args []string) error {
	search := mustGetString(cmd, "search")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	employees, err := store.GetAllEmployees(ctx)
	if err != nil {
		return fmt.Errorf("failed to list employees: %w", err)
	}

	rows := make([]EmployeeRow, 0, len(employees))
	for _, emp := range employees {
		if search != "" && !facematch.NameMatches(emp.Name, search) {
			continue
		}
		n, err := store.CountEmbeddings(ctx, emp.ID)
		if err != nil {
			return fmt.Errorf("failed to count embeddings of %s: %w", emp.ID, err)
		}
		rows = append(rows, EmployeeRow{ID: emp.ID, Name: emp.Name, Department: emp.Department, Embeddings: n})
	}

	if jsonOutput {
		return outputJSON(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDEPARTMENT\tEMBEDDINGS")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.ID, r.Name, r.Department, r.Embeddings)
	}
	return w.Flush()
}

func runEmployeeRemove(cmd *cobra.Command, args []string) error {
	hard := mustGetBool(cmd, "hard")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	index := database.NewIdentityIndex()
	n, err := enroll.New(store, nil, index, 0).Remove(ctx, args[0], hard)
	if err != nil {
		return err
	}
	verb := "Archived"
	if hard {
		verb = "Deleted"
	}
	fmt.Printf("%s %d embeddings of %s\n", verb, n, args[0])
	saveIndex(cfg, index)
	return nil
}
