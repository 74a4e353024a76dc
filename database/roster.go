package database

import (
	"context"
	"errors"
	"strings"

	"github.com/anuragrao04/qr-attendance-core/models"
	"gorm.io/gorm"
)

// Roster answers enrollment questions from the students table.
type Roster struct {
	db *gorm.DB
}

func NewRoster(db *gorm.DB) *Roster {
	return &Roster{db: db}
}

// IsEnrolled reports whether studentID belongs to the department and year.
func (r *Roster) IsEnrolled(ctx context.Context, studentID, department, year string) (bool, error) {
	var student models.Student
	err := r.db.WithContext(ctx).
		Where("srn = ? AND department = ? AND year = ?", strings.TrimSpace(studentID), department, year).
		Take(&student).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RosterSize counts the students enrolled in the department and year.
func (r *Roster) RosterSize(ctx context.Context, department, year string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Student{}).
		Where("department = ? AND year = ?", department, year).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// AddStudents upserts roster rows. It is used by seeding and tests; the
// portal owns the table in production.
func (r *Roster) AddStudents(ctx context.Context, students ...models.Student) error {
	if len(students) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&students).Error
}
