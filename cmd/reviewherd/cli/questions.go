package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Work the question queue from the command line",
}

var questionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending questions, highest priority first",
	RunE:  runQuestionsList,
}

var questionsAnswerCmd = &cobra.Command{
	Use:   "answer <id> <text>",
	Short: "Answer a question and deliver it to the asking session",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runQuestionsAnswer,
}

var questionsSkipCmd = &cobra.Command{
	Use:   "skip <id>",
	Short: "Close a question without answering",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuestionsSkip,
}

var (
	snoozeDuration time.Duration

	questionsSnoozeCmd = &cobra.Command{
		Use:   "snooze <id>",
		Short: "Hide a question for a while",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuestionsSnooze,
	}
)

func init() {
	questionsSnoozeCmd.Flags().DurationVar(&snoozeDuration, "for", time.Hour, "snooze duration")
	questionsCmd.AddCommand(questionsListCmd, questionsAnswerCmd, questionsSkipCmd, questionsSnoozeCmd)
	rootCmd.AddCommand(questionsCmd)
}

func runQuestionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	queue := openQueue(cfg, newHolder("cli"))
	pending, err := queue.Pending(time.Now())
	if err != nil {
		return err
	}

	if jsonOut {
		printJSON(pending)
		return nil
	}
	if len(pending) == 0 {
		fmt.Println("No pending questions.")
		return nil
	}
	fmt.Printf("%-36s %-8s %-24s %s\n", "ID", "PRIO", "REPO", "QUESTION")
	for _, q := range pending {
		text := q.Context.Excerpt
		if len(q.Prompts) > 0 && q.Prompts[0].Prompt != "" {
			text = q.Prompts[0].Prompt
		}
		if len(text) > 60 {
			text = text[:57] + "..."
		}
		fmt.Printf("%-36s %-8s %-24s %s\n", q.ID, q.Priority.String(), q.Repo, text)
	}
	return nil
}

func runQuestionsAnswer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	queue := openQueue(cfg, newHolder("cli"))
	answer := strings.Join(args[1:], " ")
	if err := queue.RouteAnswer(cmd.Context(), newDriver(cfg), args[0], answer); err != nil {
		return err
	}
	fmt.Printf("answered %s\n", args[0])
	return nil
}

func runQuestionsSkip(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	queue := openQueue(cfg, newHolder("cli"))
	if _, err := queue.MarkSkipped(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("skipped %s\n", args[0])
	return nil
}

func runQuestionsSnooze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	queue := openQueue(cfg, newHolder("cli"))
	until := time.Now().Add(snoozeDuration)
	if _, err := queue.MarkSnoozed(cmd.Context(), args[0], until); err != nil {
		return err
	}
	fmt.Printf("snoozed %s until %s\n", args[0], until.Format(time.RFC3339))
	return nil
}
