package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// Department identifies an administrative unit receiving student requests.
type Department string

const (
	DepartmentAccounting     Department = "accounting"
	DepartmentAcademic       Department = "academic"
	DepartmentDormitory      Department = "dormitory"
	DepartmentStudentAffairs Department = "student_affairs"
	DepartmentCampusServices Department = "campus_services"
)

var departmentNames = map[Department]string{
	DepartmentAccounting:     "Accounting",
	DepartmentAcademic:       "Academic",
	DepartmentDormitory:      "Dormitory",
	DepartmentStudentAffairs: "Student Affairs",
	DepartmentCampusServices: "Campus Services",
}

// Departments lists every known department in display order.
func Departments() []Department {
	return []Department{
		DepartmentAccounting,
		DepartmentAcademic,
		DepartmentDormitory,
		DepartmentStudentAffairs,
		DepartmentCampusServices,
	}
}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	_, ok := departmentNames[d]
	return ok
}

// DisplayName returns the human readable department name.
func (d Department) DisplayName() string {
	if name, ok := departmentNames[d]; ok {
		return name
	}
	return string(d)
}

// ParseDepartment accepts either the identifier ("student_affairs") or the display
// name ("Student Affairs") in any letter case.
func ParseDepartment(raw string) (Department, error) {
	folded := cases.Fold().String(strings.TrimSpace(raw))
	folded = strings.NewReplacer(" ", "_", "-", "_").Replace(folded)
	for dept, name := range departmentNames {
		if folded == string(dept) || folded == strings.ReplaceAll(cases.Fold().String(name), " ", "_") {
			return dept, nil
		}
	}
	return "", Reject(ErrInvalid, "Unknown department", map[string]any{"department": raw})
}
