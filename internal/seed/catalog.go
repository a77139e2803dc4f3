// Package seed holds the default permission catalog and role blueprints.
package seed

// Entry is one permission of the catalog.
type Entry struct {
	Name        string
	Description string
}

// Module groups catalog entries under a module name.
type Module struct {
	Name        string
	Permissions []Entry
}

// Catalog returns the default permission catalog in display order.
func Catalog() []Module {
	return []Module{
		{Name: "Dashboard", Permissions: []Entry{
			{"View Dashboard", "Access and view the Dashboard module."},
		}},
		{Name: "Document Management", Permissions: []Entry{
			{"View Files", "View all files in Document Management."},
			{"Create Files", "Create new documents."},
			{"Edit Files", "Edit existing documents."},
			{"Delete Files", "Delete documents permanently."},
			{"View Folders", "View all folders."},
			{"Create Folders", "Create new folders."},
			{"Edit Folders", "Edit existing folders."},
			{"Delete Folders", "Delete folders permanently."},
			{"View File Versions", "View document version history."},
			{"Restore File Versions", "Restore previous versions of documents."},
			{"Delete File Versions", "Delete specific versions of documents."},
			{"View Shared Links", "View all shared links for documents."},
			{"Create Shared Links", "Create new shared links for documents."},
			{"Delete Shared Links", "Delete shared links permanently."},
			{"View Favorites", "View favorite documents and folders."},
			{"Add to Favorites", "Add documents or folders to favorites."},
			{"Remove from Favorites", "Remove documents or folders from favorites."},
			{"View Recent Files", "View recently accessed files."},
			{"View Shared With Me", "View documents shared with the user."},
			{"Upload Files", "Upload new files to the system."},
			{"Download Files", "Download files from the system."},
			{"Move Files", "Move files between folders."},
			{"Copy Files", "Copy files within the system."},
			{"View Comments", "View comments on documents."},
			{"Add Comments", "Add comments to documents."},
			{"Edit Comments", "Edit comments on documents."},
			{"Delete Comments", "Delete comments from documents."},
			{"Approve Files", "Approve files submitted for review."},
			{"Review Files", "Review files and provide feedback."},
		}},
		{Name: "Lists of Users", Permissions: []Entry{
			{"View Users", "View all user accounts."},
			{"Create Users", "Create new users."},
			{"Edit Users", "Edit user accounts."},
			{"Delete Users", "Delete user accounts permanently."},
		}},
		{Name: "User Management", Permissions: []Entry{
			{"View Groups", "View all user groups."},
			{"Create Groups", "Create new user groups."},
			{"Edit Groups", "Edit existing groups."},
			{"Delete Groups", "Delete groups permanently."},
			{"View Roles", "View all roles."},
			{"Create Roles", "Create new roles."},
			{"Edit Roles", "Edit roles."},
			{"Delete Roles", "Delete roles permanently."},
			{"View Permissions", "View all permissions."},
			{"Assign Permissions", "Assign permissions to roles."},
		}},
		{Name: "Access Controls", Permissions: []Entry{
			{"View Assigned Groups", "View which groups have access."},
			{"View Assigned Roles", "View which roles have access."},
		}},
		{Name: "Tags", Permissions: []Entry{
			{"View Tags", "View all tags."},
			{"Create Tags", "Create new tags."},
			{"Edit Tags", "Edit existing tags."},
			{"Delete Tags", "Delete tags permanently."},
			{"View Categories", "View tag categories."},
			{"Create Categories", "Create new tag categories."},
			{"Edit Categories", "Edit tag categories."},
			{"Delete Categories", "Delete tag categories permanently."},
		}},
		{Name: "Calendar", Permissions: []Entry{
			{"View Calendar", "View all calendar events."},
			{"Create Events", "Create new calendar events."},
			{"Create Public Events", "Create new calendar Public events."},
			{"Edit Public Events", "Edit existing calendar Public events."},
			{"Edit Events", "Edit existing calendar events."},
			{"Delete Events", "Delete calendar events permanently."},
			{"Move Events", "Move events between different dates or times."},
			{"Delete Public Events", "Delete Public calendar events permanently."},
		}},
		{Name: "Logs / Audit", Permissions: []Entry{
			{"View Logs", "View audit logs for the system."},
		}},
		{Name: "Recycle Bin", Permissions: []Entry{
			{"View Recycle Bin", "View deleted items."},
			{"Restore", "Restore deleted items."},
			{"Empty Recycle Bin", "Permanently delete all items in the Recycle Bin."},
			{"Delete Permanently", "Permanently delete specific items from the Recycle Bin."},
		}},
		{Name: "Settings", Permissions: []Entry{
			{"View Profiles", "View user profiles."},
			{"View User Logs", "View individual user activity logs."},
			{"View Version Info", "View system version information."},
			{"Edit Settings", "Modify system settings."},
		}},
	}
}
