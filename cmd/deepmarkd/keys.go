package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/deepmark/deepmark/internal/vault"
	"golang.org/x/term"
)

func cmdKeys(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: deepmarkd keys <set|delete> <name>")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "set":
		if len(args) < 2 {
			fmt.Println("Usage: deepmarkd keys set <name>")
			os.Exit(1)
		}
		name := strings.ToLower(args[1])
		fmt.Printf("Enter secret for %s: ", name)
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading secret: %v\n", err)
			os.Exit(1)
		}
		if err := v.Set(name, string(secret)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret %q stored successfully (reference it as keyring://deepmark/%s)\n", name, name)

	case "delete":
		if len(args) < 2 {
			fmt.Println("Usage: deepmarkd keys delete <name>")
			os.Exit(1)
		}
		name := strings.ToLower(args[1])
		if err := v.Delete(name); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret %q deleted\n", name)

	default:
		fmt.Fprintf(os.Stderr, "unknown keys command: %s\n", args[0])
		os.Exit(1)
	}
}
