package seed

import "slices"

// Blueprint describes a default role and the catalog entries it is granted.
type Blueprint struct {
	Name        string
	Color       string
	Description string
	Grants      func(module, name string) bool
}

// Ref identifies a catalog permission.
type Ref struct {
	Module string
	Name   string
}

var (
	managerDenied = []string{
		"Create Users", "Edit Users", "Delete Users",
		"View Roles", "Create Roles", "Edit Roles", "Delete Roles",
		"View Permissions", "Assign Permissions", "View Assigned Roles",
		"Delete Tags", "Delete Categories", "View Logs", "View Version Info",
	}
	staffDeniedModules = []string{"User Management", "Access Controls"}
	staffDenied        = []string{
		"Create Users", "Edit Users", "Delete Users",
		"Delete Files", "Edit Folders", "Delete Folders", "Create Folders",
		"Create Public Events", "Edit Public Events",
		"View Logs", "View Version Info",
		"View Categories", "Create Categories", "Edit Categories", "Delete Categories",
		"Delete Tags",
	}
	readerAllowed = []string{
		"View Dashboard", "View Users", "View Groups", "View Roles",
		"View Files", "View Folders", "View File Versions", "View Shared Links",
		"View Favorites", "Add to Favorites", "Remove from Favorites",
		"View Recent Files", "View Shared With Me", "Download Files",
		"View Categories", "View Tags", "View Calendar",
		"View Comments", "Add Comments", "Review Files",
	}
	reviewerAllowed = append(slices.Clone(readerAllowed), "Edit Comments")
	approverAllowed = append(slices.Clone(readerAllowed), "Approve Files")
)

// Blueprints returns the default roles. privileged names the role that
// administers permissions; it receives the full catalog like Admin.
func Blueprints(privileged string) []Blueprint {
	all := func(string, string) bool { return true }
	return []Blueprint{
		{Name: privileged, Color: "#1d4ed8", Description: "Full access to everything", Grants: all},
		{Name: "Admin", Color: "#2563eb", Description: "Full access like Developer", Grants: all},
		{Name: "Manager", Color: "#f59e0b", Description: "Manager with restricted access", Grants: func(_, name string) bool {
			return !slices.Contains(managerDenied, name)
		}},
		{Name: "Staff", Color: "#10b981", Description: "Staff with minimal access", Grants: func(module, name string) bool {
			if module == "Lists of Users" && name == "View Users" {
				return true
			}
			return !slices.Contains(staffDeniedModules, module) && !slices.Contains(staffDenied, name)
		}},
		{Name: "Reviewer", Color: "#8b5cf6", Description: "Can review and comment on documents", Grants: func(_, name string) bool {
			return slices.Contains(reviewerAllowed, name)
		}},
		{Name: "Approver", Color: "#ec4899", Description: "Can approve and reject documents", Grants: func(_, name string) bool {
			return slices.Contains(approverAllowed, name)
		}},
	}
}

// Select returns the catalog refs granted by bp, in catalog order.
func (bp Blueprint) Select(catalog []Module) []Ref {
	var refs []Ref
	for _, m := range catalog {
		for _, p := range m.Permissions {
			if bp.Grants(m.Name, p.Name) {
				refs = append(refs, Ref{Module: m.Name, Name: p.Name})
			}
		}
	}
	return refs
}
