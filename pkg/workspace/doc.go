/*
Package workspace owns the on-disk files shared by the producer and the
worker: uploaded archives, extracted per-job directories, output
directories, and the per-job training log.

Layout under the data directory:

	uploads/<job_id>.zip    submitted archive, written once at submit
	jobs/<job_id>/          extracted workspace, output.log lives here
	outputs/<job_id>/       bind-mounted at /output inside the container

Producers and workers may run on different hosts as long as they share
this tree (NFS or a common bind mount). The log helpers (WriteLogHeader,
AppendErrorBlock, Tail, Follow) treat output.log as append-only text;
Follow polls rather than using inotify so it works on network mounts.
*/
package workspace
