package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jobctl/internal/store"

	"github.com/spf13/cobra"
)

func resetCmd() *cobra.Command {
	rCmd := &cobra.Command{
		Use:   "reset",
		Short: "Back up and delete the queue database and logs, then reinitialize",
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes && !confirmReset(cmd.InOrStdin()) {
				fmt.Println("aborted")
				return nil
			}

			backupDir := fmt.Sprintf("backup_%s", time.Now().UTC().Format("20060102T150405Z"))
			if err := os.MkdirAll(backupDir, 0755); err != nil {
				return fmt.Errorf("create backup dir: %w", err)
			}

			if err := backupFile("queue.db", filepath.Join(backupDir, "queue.db")); err != nil {
				return fmt.Errorf("backup queue.db: %w", err)
			}
			if err := backupDirectory("logs", filepath.Join(backupDir, "logs")); err != nil {
				return fmt.Errorf("backup logs: %w", err)
			}
			fmt.Printf("backed up queue.db and logs/ to %s\n", backupDir)

			for _, f := range []string{"queue.db", "queue.db-wal", "queue.db-shm"} {
				if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove %s: %w", f, err)
				}
			}
			if err := os.RemoveAll("logs"); err != nil {
				return fmt.Errorf("remove logs: %w", err)
			}

			if err := os.MkdirAll("logs", 0755); err != nil {
				return fmt.Errorf("recreate logs dir: %w", err)
			}
			st, err := store.Open("queue.db")
			if err != nil {
				return fmt.Errorf("reinitialize database: %w", err)
			}
			defer st.Close()

			fmt.Println("reset complete; run 'jobctl status' to verify")
			return nil
		},
	}
	rCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	return rCmd
}

func confirmReset(in io.Reader) bool {
	fmt.Print("this deletes all jobs and logs after backing them up; continue? [y/N] ")
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func backupFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func backupDirectory(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := backupFile(filepath.Join(srcDir, entry.Name()), filepath.Join(dstDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
