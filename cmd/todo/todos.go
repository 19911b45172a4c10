package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/breez/todo-sync/client/localstore"
	"github.com/breez/todo-sync/model"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add <title> [content]",
	Short: "Add a todo",
	Long: `Add a todo to the local list. The content defaults to the title.

The todo is queued for upload and sent on the next "todo sync".`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := args[0]
		if len(args) > 1 {
			content = args[1]
		}
		id, _ := cmd.Flags().GetString("id")
		todo, err := local.Put(cmd.Context(), model.TodoInput{Id: id, Title: args[0], Content: content})
		if err != nil {
			return err
		}
		fmt.Println(todo.Id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local todos, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		todos, err := local.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDONE\tTITLE\tCREATED")
		for _, todo := range todos {
			done := " "
			if todo.Completed {
				done = "x"
			}
			fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", todo.Id, done, todo.Title, todo.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a todo as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		undo, _ := cmd.Flags().GetBool("undo")
		completed := !undo
		_, err := local.Patch(cmd.Context(), args[0], localstore.TodoPatch{Completed: &completed})
		return err
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a todo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return local.Delete(cmd.Context(), args[0])
	},
}

func init() {
	addCmd.Flags().String("id", "", "use this id instead of a generated one")
	doneCmd.Flags().Bool("undo", false, "mark the todo as not completed")

	localCommand(addCmd)
	localCommand(listCmd)
	localCommand(doneCmd)
	localCommand(rmCmd)
}
