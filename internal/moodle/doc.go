// Package moodle implements the backend client against the Moodle web
// service API used by the Moodle mobile app.
//
// Endpoints:
//   - login/token.php exchanges a username and password for a token
//   - webservice/rest/server.php runs web service functions
//   - webservice/pluginfile.php serves course files to token holders
//
// A Client enumerates course files into a plan (GetFilesForDownload) and
// then streams every planned file into a single ZIP (DownloadFilesIntoZIP).
// API calls go through resty; file fetches use a retrying transport. Both
// share one rate limiter so a large download stays polite to the LMS.
package moodle
