package cmd

import (
	"bufio"
	"fmt"
	"os"

	"jobctl/internal/repository"

	"github.com/spf13/cobra"
)

func logsCmd(repo repository.Repository) *cobra.Command {
	lCmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show a job's captured stdout/stderr log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			job, err := repo.Get(cmd.Context(), id)
			if err != nil {
				return err
			}

			tail, _ := cmd.Flags().GetInt("tail")
			lines, err := readLines(job.StdoutLog)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Printf("no log file yet for job %s\n", id)
					return nil
				}
				return fmt.Errorf("read log: %w", err)
			}

			if tail > 0 && tail < len(lines) {
				lines = lines[len(lines)-tail:]
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
	lCmd.Flags().Int("tail", 0, "show only the last N lines (0 = whole file)")
	return lCmd
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
