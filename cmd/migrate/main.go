package main

import (
	"bufio"
	"crypto/sha256"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Maintenance tool for the local media cache. Older runs named files after
// the upload only, so rotated Slack URLs produced duplicate downloads of the
// same file under different names.

func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: migrate <remove-duplicates|verify-names> <media-directory>")
	}

	command := os.Args[1]
	mediaDir := os.Args[2]

	switch command {
	case "remove-duplicates":
		if err := removeDuplicates(mediaDir); err != nil {
			log.Fatal(err)
		}
	case "verify-names":
		if err := verifyNames(mediaDir); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("Unknown command %q", command)
	}
}

// removeDuplicates finds media files with identical content and
// interactively deletes all but the first.
func removeDuplicates(mediaDir string) error {
	hashToFiles := make(map[string][]string)
	reader := bufio.NewReader(os.Stdin)

	if err := filepath.WalkDir(mediaDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Continue on errors
		}
		if d.IsDir() {
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			log.Printf("Error hashing %s: %v", path, err)
			return nil
		}
		hashToFiles[hash] = append(hashToFiles[hash], path)
		return nil
	}); err != nil {
		return fmt.Errorf("walking directory: %w", err)
	}

	totalRemoved := 0
	for hash, files := range hashToFiles {
		if len(files) <= 1 {
			continue
		}

		fmt.Printf("\nFound %d files with identical content (sha256 %s...):\n", len(files), hash[:12])
		for i, file := range files {
			fileName := filepath.Base(file)
			if i == 0 {
				fmt.Printf("  KEEP: %s\n", fileName)
				continue
			}

			if confirmDelete(reader, file) {
				if err := os.Remove(file); err != nil {
					log.Printf("Error removing %s: %v", file, err)
				} else {
					totalRemoved++
					fmt.Printf("  REMOVED: %s\n", fileName)
				}
			} else {
				fmt.Printf("  SKIP: %s\n", fileName)
			}
		}
	}

	fmt.Printf("\nRemoved %d duplicate files\n", totalRemoved)
	return nil
}

var stableNamePattern = regexp.MustCompile(`_[0-9a-f]{12}(\.[^.]+)?$`)

// verifyNames reports media files that predate stable naming and therefore
// lack the content identifier suffix.
func verifyNames(mediaDir string) error {
	var legacy []string

	if err := filepath.WalkDir(mediaDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Continue on errors
		}
		if d.IsDir() {
			return nil
		}
		if !stableNamePattern.MatchString(filepath.Base(path)) {
			legacy = append(legacy, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walking directory: %w", err)
	}

	if len(legacy) == 0 {
		fmt.Println("All media files use stable names")
		return nil
	}

	fmt.Printf("Found %d files without stable names:\n", len(legacy))
	for _, path := range legacy {
		fmt.Printf("  %s\n", path)
	}
	fmt.Println("\nThese will be re-downloaded under stable names on the next run.")
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func confirmDelete(reader *bufio.Reader, path string) bool {
	for {
		fmt.Printf("  DELETE %s? [y/N]: ", filepath.Base(path))
		input, err := reader.ReadString('\n')
		if err != nil {
			log.Printf("Error reading input: %v", err)
			return false
		}
		response := strings.ToLower(strings.TrimSpace(input))
		switch response {
		case "y", "yes":
			return true
		case "", "n", "no":
			return false
		default:
			fmt.Println("  Please enter y or n.")
		}
	}
}
