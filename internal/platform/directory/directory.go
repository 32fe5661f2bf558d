// Package directory resolves member ids to contact details. The member records
// belong to the member management application; this package only reads them.
package directory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/fatflowers/membership/internal/models"
)

var ErrMemberNotFound = errors.New("member not found")

// Directory looks members up by id.
type Directory interface {
	Lookup(ctx context.Context, memberID int64) (*models.Member, error)
}

// GormDirectory reads the members table.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(gdb *gorm.DB) *GormDirectory {
	return &GormDirectory{db: gdb}
}

func (d *GormDirectory) Lookup(ctx context.Context, memberID int64) (*models.Member, error) {
	if memberID <= 0 {
		return nil, ErrMemberNotFound
	}
	var m models.Member
	err := d.db.WithContext(ctx).Where("id = ?", memberID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup member %d: %w", memberID, err)
	}
	return &m, nil
}

var Module = fx.Options(
	fx.Provide(fx.Annotate(NewGormDirectory, fx.As(new(Directory)))),
)
