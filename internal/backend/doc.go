// Package backend defines the contract between the archiver core and the
// learning-management backend.
//
// The core never speaks the LMS wire protocol itself. It constructs a Client
// through a Connector and drives it through the documented sequence:
//
//  1. GetToken (login) or Authorize (restored session)
//  2. GetUserID, which doubles as a token liveness check
//  3. GetUserCourses
//  4. GetFilesForDownload for the chosen courses
//  5. DownloadFilesIntoZIP, reporting progress through a ProgressFunc
//
// Errors returned by a Client carry the backend's own message and are passed
// to the user unchanged.
package backend
