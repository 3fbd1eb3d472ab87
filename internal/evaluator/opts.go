package evaluator

import (
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// validate is shared across all opts structs; registered once with the
// custom "absolutepath" rule the DSL's dest/path arguments need.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("absolutepath", validateAbsolutePath); err != nil {
		panic(fmt.Sprintf("evaluator: registering absolutepath validator: %v", err))
	}
	return v
}

func validateAbsolutePath(fl validator.FieldLevel) bool {
	return filepath.IsAbs(fl.Field().String())
}

// linkOpts mirrors link(src, dest, opts) per the DSL contract: dest must
// be absolute, mkdirs/force default false.
type linkOpts struct {
	Dest   string `validate:"required,absolutepath"`
	MkDirs bool
	Force  bool
}

// templateOpts mirrors template(src, dest, opts); Vars is validated
// separately since it is a free-form string-keyed map.
type templateOpts struct {
	Dest   string `validate:"required,absolutepath"`
	MkDirs bool
	Force  bool
}

// packagesOpts mirrors packages(manager, names, opts).
type packagesOpts struct {
	State string `validate:"omitempty,oneof=present absent"`
}
