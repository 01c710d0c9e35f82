package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/service"
)

// Catalog is the seed file layout.
type Catalog struct {
	Classes  []CatalogClass   `toml:"class"`
	Packages []CatalogPackage `toml:"package"`
}

type CatalogClass struct {
	Name        string `toml:"name"`
	Discipline  string `toml:"discipline"`
	AgeGroup    string `toml:"age_group"`
	Level       string `toml:"level"`
	Teacher     string `toml:"teacher"`
	Day         string `toml:"day"`
	Start       string `toml:"start"`
	End         string `toml:"end"`
	Room        uint8  `toml:"room"`
	PriceCents  uint32 `toml:"price_cents"`
	Description string `toml:"description"`
}

type CatalogPackage struct {
	Name         string   `toml:"name"`
	Type         string   `toml:"type"`
	ClassCount   int      `toml:"class_count"`
	PriceCents   uint32   `toml:"price_cents"`
	ValidityDays int      `toml:"validity_days"`
	Description  string   `toml:"description"`
	Features     []string `toml:"features"`
}

// LoadCatalog decodes path and rejects keys it does not know, so a typo
// in the file is reported instead of silently seeding a zero value.
func LoadCatalog(path string) (Catalog, error) {
	var c Catalog
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Catalog{}, fmt.Errorf("unknown catalog keys: %s", strings.Join(keys, ", "))
	}
	return c, nil
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func (c CatalogClass) toModel() model.ClassSession {
	return model.ClassSession{
		Name: c.Name, Discipline: c.Discipline, AgeGroup: c.AgeGroup, Level: c.Level, Teacher: c.Teacher,
		DayOfWeek: c.Day, StartTime: c.Start, EndTime: c.End, Room: c.Room, PriceCents: c.PriceCents,
		Description: optional(c.Description), IsActive: true,
	}
}

func (p CatalogPackage) toModel() (model.PackageDefinition, error) {
	def := model.PackageDefinition{
		Name: p.Name, Type: model.PackageType(p.Type), PriceCents: p.PriceCents,
		ValidityDays: p.ValidityDays, Description: optional(p.Description), Features: p.Features, IsActive: true,
	}
	switch def.Type {
	case model.PackageClasses:
		if p.ClassCount < 1 {
			return def, fmt.Errorf("package %q: class_count is required", p.Name)
		}
		n := p.ClassCount
		def.ClassCount = &n
	case model.PackageMonthly, model.PackageUnlimited:
	default:
		return def, fmt.Errorf("package %q: unknown type %q", p.Name, p.Type)
	}
	if def.ValidityDays < 1 {
		return def, fmt.Errorf("package %q: validity_days must be positive", p.Name)
	}
	return def, nil
}

// packageCreator is the part of the package store seeding needs.
type packageCreator interface {
	List(ctx context.Context, activeOnly bool) ([]model.PackageDefinition, error)
	Create(ctx context.Context, p *model.PackageDefinition) error
}

// classCreator is satisfied by *service.ClassService.
type classCreator interface {
	Create(ctx context.Context, c *model.ClassSession) error
}

type seedResult struct {
	ClassesCreated, ClassesSkipped   int
	PackagesCreated, PackagesSkipped int
}

// seed creates every class and package of cat.  Classes whose slot is
// taken and packages whose name exists are skipped, so running the same
// file twice changes nothing.
func seed(ctx context.Context, cat Catalog, classes classCreator, packages packageCreator, log *zap.Logger) (seedResult, error) {
	var res seedResult
	for _, cc := range cat.Classes {
		c := cc.toModel()
		err := classes.Create(ctx, &c)
		switch {
		case errors.Is(err, model.ErrDuplicateSlot):
			log.Info("class slot taken, skipped", zap.String("name", cc.Name), zap.String("day", cc.Day), zap.String("start", cc.Start))
			res.ClassesSkipped++
		case err != nil:
			return res, fmt.Errorf("class %q: %w", cc.Name, err)
		default:
			res.ClassesCreated++
		}
	}

	existing, err := packages.List(ctx, false)
	if err != nil {
		return res, fmt.Errorf("list packages: %w", err)
	}
	names := make(map[string]bool, len(existing))
	for _, p := range existing {
		names[strings.ToLower(p.Name)] = true
	}
	for _, cp := range cat.Packages {
		if names[strings.ToLower(cp.Name)] {
			res.PackagesSkipped++
			continue
		}
		def, err := cp.toModel()
		if err != nil {
			return res, err
		}
		if err := packages.Create(ctx, &def); err != nil {
			return res, fmt.Errorf("package %q: %w", cp.Name, err)
		}
		names[strings.ToLower(cp.Name)] = true
		res.PackagesCreated++
	}
	return res, nil
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create classes and packages from a TOML catalogue",
		Example: `  studioctl seed --file catalog.toml
  studioctl seed -f cmd/studioctl/catalog.example.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := LoadCatalog(file)
			if err != nil {
				return err
			}
			ctx, db, log, cleanup, err := session(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			classes := service.NewClassService(repository.NewClassRepo(db), nil, time.UTC, log)
			res, err := seed(ctx, cat, classes, repository.NewPackageRepo(db), log)
			if err != nil {
				return err
			}
			log.Info("catalogue seeded",
				zap.Int("classes_created", res.ClassesCreated), zap.Int("classes_skipped", res.ClassesSkipped),
				zap.Int("packages_created", res.PackagesCreated), zap.Int("packages_skipped", res.PackagesSkipped))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "catalog.toml", "catalogue file")
	return cmd
}
