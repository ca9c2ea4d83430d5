package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage stored images",
}

var imageDeleteCmd = &cobra.Command{
	Use:   "delete <user-id> <image-id>",
	Short: "Delete an image and the encodings it contributed",
	Long: `Delete an image from a user's graph.

Every encoding extracted from the image is removed. People left without
encodings are removed as well.`,
	Args: cobra.ExactArgs(2),
	RunE: runImageDelete,
}

func init() {
	rootCmd.AddCommand(imageCmd)
	imageCmd.AddCommand(imageDeleteCmd)

	imageDeleteCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

func runImageDelete(cmd *cobra.Command, args []string) error {
	userID, imageID := args[0], args[1]

	if !mustGetBool(cmd, "yes") && !confirmAction(fmt.Sprintf("Delete image %s of user %s? [y/N] ", imageID, userID)) {
		fmt.Println("Cancelled.")
		return nil
	}

	a, err := newApp(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	touched, err := a.resolver.DeleteImage(cmd.Context(), userID, imageID)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted image %s, %d people affected:\n", imageID, len(touched))
	for _, id := range touched {
		fmt.Printf("  - %s\n", id)
	}
	return nil
}
