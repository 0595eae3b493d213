package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/trustcore/crypto"
)

type generatedKeys struct {
	EncryptionKey string `yaml:"encryption_key"`
	TokenSecret   string `yaml:"token_secret"`
}

func newKeygenCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encryption key and a token signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			secret, err := crypto.GenerateKey()
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(generatedKeys{EncryptionKey: key, TokenSecret: secret})
		},
	}
}

func newHashPasswordCmd(a *app) *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if cost == 0 {
				cost = a.cfg.PasswordWorkFactor
			}

			hash, err := crypto.HashPassword(password, cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 0, "work factor (default from config)")
	return cmd
}

var errPasswordMismatch = errors.New("password does not match")

func newVerifyPasswordCmd(_ *app) *cobra.Command {
	var hash string

	cmd := &cobra.Command{
		Use:   "verify-password",
		Short: "Check a password read from stdin against --hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if !crypto.VerifyPassword(password, hash) {
				return errPasswordMismatch
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return err
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "stored hash")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

// readSecret returns the first line of r without its line ending.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty input")
	}
	return line, nil
}
