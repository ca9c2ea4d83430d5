package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "List and rename a user's people",
}

var peopleListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List the people of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeopleList,
}

var peopleRenameCmd = &cobra.Command{
	Use:   "rename <user-id> <person-id> <name...>",
	Short: "Rename a person",
	Long: `Rename one of a user's people.

Example:
  facegraph people rename alice 3f0c... Jiří Novák`,
	Args: cobra.MinimumNArgs(3),
	RunE: runPeopleRename,
}

func init() {
	rootCmd.AddCommand(peopleCmd)
	peopleCmd.AddCommand(peopleListCmd)
	peopleCmd.AddCommand(peopleRenameCmd)

	peopleListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runPeopleList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	people, err := a.resolver.ListPeople(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(people)
	}

	if len(people) == 0 {
		fmt.Println("No people found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tIMAGES")
	fmt.Fprintln(w, "--\t----\t------")
	for _, p := range people {
		fmt.Fprintf(w, "%s\t%s\t%d\n", p.ID, p.Name, len(p.ImageIDs))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d people\n", len(people))
	return nil
}

func runPeopleRename(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name := strings.Join(args[2:], " ")
	changed, err := a.resolver.RenamePerson(cmd.Context(), args[0], args[1], name)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Println("Name unchanged.")
		return nil
	}
	fmt.Printf("Renamed %s to %q\n", args[1], name)
	return nil
}
