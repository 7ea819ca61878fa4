package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/compliance-rag/internal/core/domain"
)

type askOptions struct {
	question     string
	questionFile string
	template     string
	xlsxPath     string
	asJSON       bool
}

func newAskCommand(a *app) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <namespace>",
		Short: "Answer a question against a namespace",
		Long: `Retrieves the most relevant chunks of the namespace and asks the language
model to answer using only that context.

The question comes from --question, from a document given with
--question-file (PDF, DOCX or text), or from both concatenated.

Examples:
  ragctl ask dora -q "Which ICT risks must be reported?"
  ragctl ask dora --question-file policy.pdf -t compliance-sectioned --xlsx report.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, a, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.question, "question", "q", "", "question text")
	cmd.Flags().StringVar(&opts.questionFile, "question-file", "", "document whose text is the question")
	cmd.Flags().StringVarP(&opts.template, "template", "t", "", "prompt template (default general)")
	cmd.Flags().StringVar(&opts.xlsxPath, "xlsx", "", "also write the answer as an XLSX report to this path")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "output the answer as JSON")
	return cmd
}

func runAsk(cmd *cobra.Command, a *app, namespace string, opts askOptions) error {
	if strings.TrimSpace(opts.question) == "" && opts.questionFile == "" {
		return errors.New("either --question or --question-file is required")
	}
	svc, err := a.services(cmd.Context())
	if err != nil {
		return err
	}
	if svc.Answerer == nil {
		return errors.New("answer service not configured")
	}

	question := strings.TrimSpace(opts.question)
	if opts.questionFile != "" {
		text, err := readQuestionFile(cmd, svc, opts.questionFile)
		if err != nil {
			return err
		}
		if question == "" {
			question = text
		} else {
			question = question + "\n\n" + text
		}
	}

	answer, err := svc.Answerer.Answer(cmd.Context(), namespace, question, opts.template)
	if err != nil {
		return fmt.Errorf("answer failed: %w", err)
	}

	if opts.xlsxPath != "" {
		if err := writeReport(svc, opts.xlsxPath, answer); err != nil {
			return err
		}
	}
	if opts.asJSON {
		return printJSON(cmd, answer)
	}
	printAnswer(cmd, answer)
	if opts.xlsxPath != "" {
		cmd.Printf("\nReport written to %s\n", opts.xlsxPath)
	}
	return nil
}

func readQuestionFile(cmd *cobra.Command, svc *Services, path string) (string, error) {
	if svc.Questions == nil {
		return "", errors.New("question documents are not supported")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open question file: %w", err)
	}
	defer f.Close()
	text, err := svc.Questions.ReadQuestion(cmd.Context(), filepath.Base(path), f)
	if err != nil {
		return "", fmt.Errorf("read question file: %w", err)
	}
	return text, nil
}

func writeReport(svc *Services, path string, answer *domain.Answer) (err error) {
	if svc.Reports == nil {
		return errors.New("xlsx export is not configured")
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close report: %w", cerr)
		}
	}()
	if err := svc.Reports.WriteAnswer(f, answer); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printAnswer(cmd *cobra.Command, answer *domain.Answer) {
	cmd.Println(answer.Text)

	if len(answer.Verdicts) > 0 {
		cmd.Println()
		cmd.Println("Verdicts:")
		for _, v := range answer.Verdicts {
			cmd.Printf("  %-40s %-14s %s\n", v.Section, v.Status, v.Reason)
		}
	}

	if len(answer.Sources) == 0 {
		return
	}
	cmd.Println()
	cmd.Println("Sources:")
	for i, src := range answer.Sources {
		cmd.Printf("  [%d] %s %s (%.2f)\n", i+1, src.SourceID, pages(src.PageStart, src.PageEnd), src.Score)
	}
}

func pages(start, end int) string {
	if start <= 0 {
		return ""
	}
	if end <= start {
		return fmt.Sprintf("p.%d", start)
	}
	return fmt.Sprintf("pp.%d-%d", start, end)
}
