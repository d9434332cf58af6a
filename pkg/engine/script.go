package engine

// trainingScript locates the code inside the extracted archive and runs
// it. Both requirements.txt and train.py are searched recursively with the
// shallowest match winning, so an archive that nests everything under one
// top-level directory behaves the same as a flat one. A missing file
// aborts with an identifying message before anything is installed.
const trainingScript = `set -e
cd /workspace
req=$(find . -name requirements.txt -type f | awk -F/ '{print NF, $0}' | sort -n | head -n 1 | cut -d' ' -f2-)
train=$(find . -name train.py -type f | awk -F/ '{print NF, $0}' | sort -n | head -n 1 | cut -d' ' -f2-)
if [ -z "$req" ]; then
    echo "ERROR: no requirements.txt found in workspace" >&2
    exit 1
fi
if [ -z "$train" ]; then
    echo "ERROR: no train.py found in workspace" >&2
    exit 1
fi
pip install -r "$req"
cd "$(dirname "$train")"
exec python "$(basename "$train")"
`

// TrainingCommand is the fixed command every training container runs. The
// script replaces itself with the training process so stop signals reach
// it directly.
func TrainingCommand() []string {
	return []string{"bash", "-c", trainingScript}
}
