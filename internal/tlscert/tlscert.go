// Package tlscert locates the certificate and key used for HTTPS, falling
// back to mkcert-managed localhost certificates.
package tlscert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	apperrors "github.com/alexjbarnes/mdpreview/internal/errors"
)

const (
	certName   = "localhost.pem"
	keyName    = "localhost-key.pem"
	rootCAName = "rootCA.pem"
)

// Runner executes name with args in dir and returns its stdout.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec. Stderr is folded into the
// returned error.
func ExecRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}

		return out, err
	}

	return out, nil
}

// Pair is a resolved certificate and key.
type Pair struct {
	CertFile string
	KeyFile  string
}

// Resolver finds certificates. The zero value is not usable; use New.
type Resolver struct {
	run    Runner
	logger *slog.Logger
}

// New creates a Resolver. A nil run uses ExecRunner.
func New(run Runner, logger *slog.Logger) *Resolver {
	if run == nil {
		run = ExecRunner
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{run: run, logger: logger}
}

// Resolve returns cert and key when both are given, after checking they
// exist. Otherwise it uses localhost certificates from mkcert's CAROOT,
// generating them when the CA is installed but they are missing.
func (r *Resolver) Resolve(ctx context.Context, cert, key string) (Pair, error) {
	if cert != "" && key != "" {
		for _, p := range []string{cert, key} {
			if _, err := os.Stat(p); err != nil {
				return Pair{}, fmt.Errorf("%w: %s", apperrors.ErrCertNotFound, p)
			}
		}

		return Pair{CertFile: cert, KeyFile: key}, nil
	}

	out, err := r.run(ctx, "", "mkcert", "-CAROOT")
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return Pair{}, fmt.Errorf("%w: install it from https://github.com/FiloSottile/mkcert", apperrors.ErrMkcertUnavailable)
		}

		return Pair{}, fmt.Errorf("running mkcert -CAROOT: %w", err)
	}

	caroot := strings.TrimSpace(string(out))
	if caroot == "" {
		return Pair{}, fmt.Errorf("%w: mkcert -CAROOT printed nothing", apperrors.ErrMkcertUnavailable)
	}

	pair := Pair{
		CertFile: filepath.Join(caroot, certName),
		KeyFile:  filepath.Join(caroot, keyName),
	}

	if pair.exists() {
		r.logger.Info("using existing mkcert certificates",
			slog.String("cert", pair.CertFile),
			slog.String("key", pair.KeyFile),
		)

		return pair, nil
	}

	if _, err := os.Stat(filepath.Join(caroot, rootCAName)); err != nil {
		return Pair{}, fmt.Errorf("%w: mkcert CA not initialized, run: mkcert -install", apperrors.ErrCertNotFound)
	}

	r.logger.Info("generating mkcert certificates for localhost")

	if _, err := r.run(ctx, caroot, "mkcert", "localhost"); err != nil {
		return Pair{}, fmt.Errorf("mkcert localhost: %w", err)
	}

	if !pair.exists() {
		return Pair{}, fmt.Errorf("%w: mkcert ran but %s is missing", apperrors.ErrCertNotFound, pair.CertFile)
	}

	r.logger.Info("generated mkcert certificates",
		slog.String("cert", pair.CertFile),
		slog.String("key", pair.KeyFile),
	)

	return pair, nil
}

func (p Pair) exists() bool {
	for _, f := range []string{p.CertFile, p.KeyFile} {
		if _, err := os.Stat(f); err != nil {
			return false
		}
	}

	return true
}
