package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hengadev/gdprvault"
	"github.com/hengadev/gdprvault/internal/monitoring"
	"github.com/hengadev/gdprvault/providers/redislock"
	s3bucket "github.com/hengadev/gdprvault/providers/s3"
	"github.com/hengadev/gdprvault/providers/secrets/awskms"
)

// serviceFlags are shared by every command that opens the vault.
type serviceFlags struct {
	configPath  string
	envFile     string
	secrets     string
	awsRegion   string
	auditBucket string
	auditPrefix string
}

func newFlagSet(env *environment, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

func (f *serviceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file (default: GDPR_* environment)")
	fs.StringVar(&f.envFile, "env-file", ".env", "Environment file loaded before reading GDPR_* variables")
	fs.StringVar(&f.secrets, "secrets", "env", "Secret source: env, vault or kms")
	fs.StringVar(&f.awsRegion, "aws-region", "", "AWS region for the kms secret source and the audit bucket")
	fs.StringVar(&f.auditBucket, "audit-bucket", "", "Archive audit events to this S3 bucket instead of the log")
	fs.StringVar(&f.auditPrefix, "audit-prefix", "", "Object key prefix inside the audit bucket")
}

func (f *serviceFlags) loadConfig() (gdprvault.Config, error) {
	if f.configPath != "" {
		return gdprvault.LoadConfigFromFile(f.configPath)
	}
	return gdprvault.LoadConfigFromEnvironment(f.envFile)
}

// open builds the service. Logs go to logOut so stdout carries only command output.
func (f *serviceFlags) open(ctx context.Context, logOut io.Writer) (*gdprvault.Service, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	secrets, err := openSecrets(ctx, f.secrets, f.awsRegion)
	if err != nil {
		return nil, err
	}

	opts := []gdprvault.Option{
		gdprvault.WithLogger(monitoring.NewProductionLogger(logOut, "gdprctl", cfg.LogLevel, cfg.LogFormat)),
	}
	if f.auditBucket != "" {
		archive, err := s3bucket.New(ctx, s3bucket.Config{Bucket: f.auditBucket, Prefix: f.auditPrefix, Region: f.awsRegion})
		if err != nil {
			return nil, err
		}
		opts = append(opts, gdprvault.WithAuditSink(archive))
	}
	return gdprvault.New(ctx, cfg, secrets, opts...)
}

// withService parses args, opens the service, runs fn and closes it.
func withService(ctx context.Context, fs *flag.FlagSet, args []string, fn func(*gdprvault.Service) error) error {
	var sf serviceFlags
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	svc, err := sf.open(ctx, fs.Output())
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func requireFlags(values map[string]bool) error {
	for name, set := range values {
		if !set {
			return fmt.Errorf("%w: -%s is required", gdprvault.ErrValidation, name)
		}
	}
	return nil
}

func initCommand(_ context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "init")
	path := fs.String("o", "gdprvault.yaml", "Where to write the configuration file")
	force := fs.Bool("force", false, "Overwrite an existing file")
	keyAlias := fs.String("key-alias", "patient-pii", "Alias of the PII key material")
	indexAlias := fs.String("index-key-alias", "patient-index", "Alias of the hash-index secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("configuration file %s already exists, use -force to overwrite", *path)
		}
	}
	cfg := gdprvault.Config{KeyAlias: *keyAlias, IndexKeyAlias: *indexAlias}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := gdprvault.SaveConfig(cfg, *path); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "Configuration file created at %s\n", *path)
	return nil
}

// lockFlags let cron run the scheduled jobs on every node while only one executes.
type lockFlags struct {
	addr     string
	password string
	ttl      time.Duration
}

func (f *lockFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.addr, "lock-redis", os.Getenv("GDPR_LOCK_REDIS_ADDR"), "Redis address holding the job lock (default: no lock)")
	fs.StringVar(&f.password, "lock-redis-password", os.Getenv("GDPR_LOCK_REDIS_PASSWORD"), "Password of the lock redis")
	fs.DurationVar(&f.ttl, "lock-ttl", redislock.DefaultTTL, "How long a crashed run keeps the lock")
}

// guard runs fn under the job lock when a lock server is configured.
func (f *lockFlags) guard(ctx context.Context, job string, fn func(context.Context) error) error {
	if f.addr == "" {
		return fn(ctx)
	}
	locker, rdb, err := redislock.New(ctx, redislock.Config{Addr: f.addr, Password: f.password, TTL: f.ttl})
	if err != nil {
		return err
	}
	defer rdb.Close()
	return locker.Run(ctx, job, fn)
}

func retentionCheckCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "retention-check")
	actor := fs.String("actor", "", "Actor recorded on filed requests (default: system_actor)")
	var lf lockFlags
	lf.register(fs)
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		return lf.guard(ctx, "retention-check", func(ctx context.Context) error {
			res, err := svc.RunRetentionCheck(ctx, *actor)
			if err != nil {
				return err
			}
			return writeJSON(env.stdout, res)
		})
	})
}

func sweepCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "sweep")
	actor := fs.String("actor", "", "Actor recorded on executed requests (default: system_actor)")
	var lf lockFlags
	lf.register(fs)
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		return lf.guard(ctx, "sweep", func(ctx context.Context) error {
			res, err := svc.RunExecutionSweep(ctx, *actor)
			if err != nil {
				return err
			}
			return writeJSON(env.stdout, res)
		})
	})
}

func fileCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "file")
	clinic := fs.Int64("clinic", 0, "Clinic id")
	patient := fs.Int64("patient", 0, "Patient id")
	by := fs.String("by", "", "Who asked for erasure")
	method := fs.String("method", string(gdprvault.MethodEmail), "How the request arrived: email, letter, in_person, phone or portal")
	basis := fs.String("basis", string(gdprvault.BasisConsentWithdrawn), "Legal basis of the request")
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		if gdprvault.Method(*method) == gdprvault.MethodSystem {
			return fmt.Errorf("%w: method system is reserved for retention-check", gdprvault.ErrValidation)
		}
		r, err := svc.FileErasureRequest(gdprvault.WithClinic(ctx, *clinic), gdprvault.FileInput{
			PatientID:   *patient,
			RequestedBy: *by,
			Method:      gdprvault.Method(*method),
			LegalBasis:  gdprvault.LegalBasis(*basis),
		})
		if err != nil {
			return err
		}
		return writeJSON(env.stdout, newRequestView(r))
	})
}

func evaluateCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "evaluate")
	clinic := fs.Int64("clinic", 0, "Clinic id")
	request := fs.String("request", "", "Request id")
	decision := fs.String("decision", "", "approve or deny")
	evaluator := fs.String("evaluator", "", "Who decided")
	exception := fs.String("exception", "", "Exception justifying a denial")
	reason := fs.String("reason", "", "Free-text justification")
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		if err := requireFlags(map[string]bool{"request": *request != "", "decision": *decision != ""}); err != nil {
			return err
		}
		r, err := svc.EvaluateErasureRequest(gdprvault.WithClinic(ctx, *clinic), *request, gdprvault.Evaluation{
			Decision:  gdprvault.Decision(*decision),
			Evaluator: *evaluator,
			Exception: gdprvault.Exception(*exception),
			Reason:    *reason,
		})
		if err != nil {
			return err
		}
		return writeJSON(env.stdout, newRequestView(r))
	})
}

func cancelCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "cancel")
	clinic := fs.Int64("clinic", 0, "Clinic id")
	request := fs.String("request", "", "Request id")
	by := fs.String("by", "", "Who cancelled")
	reason := fs.String("reason", "", "Why")
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		if err := requireFlags(map[string]bool{"request": *request != ""}); err != nil {
			return err
		}
		r, err := svc.CancelApprovedErasure(gdprvault.WithClinic(ctx, *clinic), *request, *by, *reason)
		if err != nil {
			return err
		}
		return writeJSON(env.stdout, newRequestView(r))
	})
}

func executeCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "execute")
	clinic := fs.Int64("clinic", 0, "Clinic id")
	request := fs.String("request", "", "Request id")
	actor := fs.String("actor", "", "Who ran the anonymization")
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		if err := requireFlags(map[string]bool{"request": *request != "", "actor": *actor != ""}); err != nil {
			return err
		}
		r, err := svc.ExecuteAnonymization(gdprvault.WithClinic(ctx, *clinic), *request, *actor)
		if err != nil {
			return err
		}
		return writeJSON(env.stdout, newRequestView(r))
	})
}

func listCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "list")
	clinic := fs.Int64("clinic", 0, "Clinic id")
	patient := fs.Int64("patient", 0, "Patient id")
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		requests, err := svc.ListErasureRequests(gdprvault.WithClinic(ctx, *clinic), *patient)
		if err != nil {
			return err
		}
		views := make([]requestView, 0, len(requests))
		for _, r := range requests {
			views = append(views, newRequestView(r))
		}
		return writeJSON(env.stdout, views)
	})
}

func statusCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "status")
	clinic := fs.Int64("clinic", 0, "Clinic id")
	patient := fs.Int64("patient", 0, "Patient id")
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		status, err := svc.RetentionStatus(gdprvault.WithClinic(ctx, *clinic), *patient)
		if err != nil {
			return err
		}
		return writeJSON(env.stdout, newStatusView(status))
	})
}

func reencryptCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "reencrypt")
	clinic := fs.Int64("clinic", 0, "Clinic id")
	actor := fs.String("actor", "", "Who ran the rotation")
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		res, err := svc.ReencryptStaleIdentities(gdprvault.WithClinic(ctx, *clinic), *actor)
		if werr := writeJSON(env.stdout, res); werr != nil {
			return errors.Join(err, werr)
		}
		return err
	})
}

func sealCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "seal")
	keyID := fs.String("key-id", "", "KMS key id, ARN or alias")
	region := fs.String("aws-region", "", "AWS region")
	value := fs.String("value", "", "Base64 secret to wrap (default: read GDPR_SEAL_VALUE)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	encoded := *value
	if encoded == "" {
		encoded = os.Getenv("GDPR_SEAL_VALUE")
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: value is not base64: %w", gdprvault.ErrValidation, err)
	}

	store, err := awskms.New(ctx, awskms.Config{KeyID: *keyID, Region: *region}, envSecretStore{})
	if err != nil {
		return err
	}
	sealed, err := store.Seal(ctx, plaintext)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, string(sealed))
	return nil
}

func healthCommand(ctx context.Context, env *environment, args []string) error {
	fs := newFlagSet(env, "health")
	return withService(ctx, fs, args, func(svc *gdprvault.Service) error {
		report := svc.Health(ctx)
		if err := writeJSON(env.stdout, report); err != nil {
			return err
		}
		if report.Status == "unhealthy" {
			return fmt.Errorf("service is unhealthy")
		}
		return nil
	})
}

func versionCommand(_ context.Context, env *environment, _ []string) error {
	_, err := fmt.Fprintln(env.stdout, gdprvault.VersionInfo())
	return err
}
